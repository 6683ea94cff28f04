package capture

import "context"

// DeviceInfo is populated by connect() from the five device-info response
// lines (version, FREQ, BLASTFREQ, BUFFER, CHANNELS) described in spec.md
// §4.2 and §6.
type DeviceInfo struct {
	Version         string
	MaxFrequency    uint32
	BlastFrequency  uint32
	BufferSize      uint32
	ChannelCount    uint8
}

// ConnectResult is the outcome of Driver.Connect.
type ConnectResult struct {
	Success bool
	Device  DeviceInfo
}

// CaptureCompletedFunc is invoked exactly once per start_capture call, with
// the session handed back (possibly holding only partial data) and whether
// the capture succeeded. Per spec.md §7, this fires even on transport
// failure — errors are never thrown past the driver boundary.
type CaptureCompletedFunc func(success bool, session *CaptureSession)

// Driver is the single capability contract every driver variant (Native,
// Network, Multi, and future third-party drivers) implements. Per DESIGN
// NOTES §9, this collapses what would be a class hierarchy in an
// object-oriented host into one interface; concrete variants differ only in
// how they fill in these methods, not in what they expose.
type Driver interface {
	// Connect opens the underlying transport and performs the
	// identification handshake.
	Connect(ctx context.Context) (ConnectResult, error)

	// StartCapture arms a capture for session and invokes onComplete when
	// the capture finishes or fails. It returns immediately after the
	// first acknowledgement from the device (or its equivalent) per the
	// concurrency model in spec.md §5.
	StartCapture(ctx context.Context, session *CaptureSession, onComplete CaptureCompletedFunc) error

	// StopCapture requests an in-flight capture stop and returns the
	// device to idle, forcing a re-handshake if necessary.
	StopCapture(ctx context.Context) (bool, error)

	// EnterBootloader requests the device restart into its firmware
	// update mode.
	EnterBootloader(ctx context.Context) (bool, error)

	// GetVoltageStatus reports the device's current voltage rail state.
	GetVoltageStatus(ctx context.Context) (string, error)

	// Disconnect releases the underlying transport. It is always safe to
	// call, including when already disconnected.
	Disconnect(ctx context.Context) error
}

// NetworkConfigurable is implemented by drivers that can provision Wi-Fi
// settings on behalf of tethered firmware (spec.md §4.2's
// send_network_config). Not every driver variant supports this, so it is a
// separate, optional interface rather than a method every Driver must stub.
type NetworkConfigurable interface {
	SendNetworkConfig(ctx context.Context, ssid, password, ipv4 string, port uint16) (bool, error)
}
