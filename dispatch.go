package improv

// An Outcome is what dispatching one command produced.
type Outcome struct {
	Command Command

	// Result is the immediate result, or nil.
	Result *Result

	// Err is the error reported for the command, ErrorNone on success.
	Err Error

	// Pending is set when the result is deferred to the Coordinator.
	Pending bool
}

// A Dispatcher runs decoded commands against the Store.
// Every command except CommandWifiSettings completes synchronously.
type Dispatcher struct {
	store    *Store
	coord    *Coordinator
	identify func()

	// Reprovision allows CommandWifiSettings in StateProvisioned.
	Reprovision bool
}

// NewDispatcher returns a Dispatcher. identify is called for
// CommandIdentify; it must not block. A nil identify makes the device
// report that identification is unsupported.
func NewDispatcher(s *Store, c *Coordinator, identify func()) *Dispatcher {
	return &Dispatcher{store: s, coord: c, identify: identify}
}

// Capabilities returns the capability bitset of the device.
func (d *Dispatcher) Capabilities() Capabilities {
	var c Capabilities
	if d.identify != nil {
		c |= CapabilityIdentify
	}
	return c
}

// DispatchFrame decodes b and dispatches the command.
// Decode failures are recorded in the Store and returned in the Outcome.
func (d *Dispatcher) DispatchFrame(b []byte) Outcome {
	cmd, err := DecodeCommand(b)
	if err != nil {
		return d.fail(cmd, ErrorCode(err))
	}
	return d.Dispatch(cmd)
}

// Dispatch runs cmd.
func (d *Dispatcher) Dispatch(cmd Command) Outcome {
	state := d.store.State()
	switch cmd.Type {
	case CommandRequestCurrentState:
		return Outcome{Command: cmd, Result: &Result{Type: cmd.Type, Payload: []byte{EncodeState(state)}}}

	case CommandRequestDeviceCapabilities:
		return Outcome{Command: cmd, Result: &Result{Type: cmd.Type, Payload: []byte{byte(d.Capabilities())}}}

	case CommandIdentify:
		if d.identify == nil {
			return d.fail(cmd, ErrorUnknownRPCCommand)
		}
		if state != StateReady && state != StateProvisioned {
			return d.fail(cmd, ErrorNotAuthorized)
		}
		d.identify()
		d.store.SetError(ErrorNone)
		return Outcome{Command: cmd, Result: &Result{Type: cmd.Type}}

	case CommandWifiSettings:
		if state == StateProvisioned && !d.Reprovision {
			return d.fail(cmd, ErrorNotAuthorized)
		}
		if !d.coord.Begin(cmd.SSID, cmd.Password) {
			return d.fail(cmd, ErrorNotAuthorized)
		}
		return Outcome{Command: cmd, Pending: true}
	}
	return d.fail(cmd, ErrorUnknownRPCCommand)
}

func (d *Dispatcher) fail(cmd Command, e Error) Outcome {
	d.store.SetError(e)
	return Outcome{Command: cmd, Err: e}
}
