package capture

// DeviceType classifies how a detected device is reached.
type DeviceType int

const (
	DeviceSerial DeviceType = iota
	DeviceNetwork
	DeviceUSB
)

func (t DeviceType) String() string {
	switch t {
	case DeviceSerial:
		return "serial"
	case DeviceNetwork:
		return "network"
	case DeviceUSB:
		return "usb"
	default:
		return "unknown"
	}
}

// DetectedDevice is produced by a detector, consumed by the matcher, and
// discarded once a driver has been created for it (spec.md §3).
type DetectedDevice struct {
	ID               string
	Name             string
	Type             DeviceType
	ConnectionString string
	DriverType       string
	Confidence       int // [0, 100]
	Capabilities     map[string]string
}

// DriverFactory builds a Driver from connection arguments parsed out of a
// DetectedDevice's ConnectionString (or supplied directly by a caller).
type DriverFactory func(args map[string]string) (Driver, error)

// DriverRegistration describes a driver variant the manager can construct.
// Registrations are permanent once registered; Priority orders the
// registry (higher first).
type DriverRegistration struct {
	ID                  string
	Name                string
	Description         string
	Version             string
	Factory             DriverFactory
	SupportedDeviceTags []string
	Priority            int
}
