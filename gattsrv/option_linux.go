package gattsrv

import (
	"time"

	"github.com/paypal/gatt"
	"github.com/paypal/gatt/linux/cmd"

	"github.com/XC-/improv/config"
)

// Advertising intervals are counted in units of 0.625 ms.
const (
	advUnit        = 625 * time.Microsecond
	advIntervalMin = 0x0020
	advIntervalMax = 0x4000

	advTypeConnectable = 0x00 // ADV_IND
	advChannelsAll     = 0x07 // 37, 38 and 39
)

// DeviceOptions returns the gatt.NewDevice options for c.
func DeviceOptions(c config.GATTConfig) []gatt.Option {
	opts := []gatt.Option{
		gatt.LnxMaxConnections(c.MaxConnections),
	}
	if c.DeviceID >= 0 {
		opts = append(opts, gatt.LnxDeviceID(c.DeviceID, c.CheckLE))
	}
	if c.AdvInterval > 0 {
		opts = append(opts, gatt.LnxSetAdvertisingParameters(advParameters(c.AdvInterval)))
	}
	return opts
}

// advParameters returns connectable undirected advertising on all three
// channels with a fixed interval of d.
func advParameters(d time.Duration) *cmd.LESetAdvertisingParameters {
	n := advInterval(d)
	return &cmd.LESetAdvertisingParameters{
		AdvertisingIntervalMin: n,
		AdvertisingIntervalMax: n,
		AdvertisingType:        advTypeConnectable,
		AdvertisingChannelMap:  advChannelsAll,
	}
}

func advInterval(d time.Duration) uint16 {
	n := int64(d / advUnit)
	switch {
	case n < advIntervalMin:
		n = advIntervalMin
	case n > advIntervalMax:
		n = advIntervalMax
	}
	return uint16(n)
}
