package capture

import "errors"

// The capture-plane sentinel errors from spec.md §7. Drivers return
// these (wrapped with context via fmt.Errorf("%w: ...", ...)) rather than
// ad hoc strings, mirroring the teacher's preference for small numeric enum
// types (kiss_state_e, fromto_t) over stringly-typed state.
var (
	ErrNone                 = errors.New("capture: no error")
	ErrBusy                 = errors.New("capture: device busy")
	ErrBadParams            = errors.New("capture: bad capture parameters")
	ErrHardwareError        = errors.New("capture: hardware error")
	ErrUnexpected           = errors.New("capture: unexpected error")
	ErrNetworkTimeout       = errors.New("capture: network timeout")
	ErrInvalidFrame         = errors.New("capture: invalid frame")
	ErrInvalidVersion       = errors.New("capture: invalid version string")
	ErrInvalidFrequency     = errors.New("capture: invalid frequency")
	ErrInvalidBufferSize    = errors.New("capture: invalid buffer size")
	ErrInvalidChannelCount  = errors.New("capture: invalid channel count")
	ErrConnectionRefused    = errors.New("capture: connection refused")
	ErrDisconnected         = errors.New("capture: disconnected")
	ErrBootloaderFailed     = errors.New("capture: bootloader entry failed")
)
