package manager

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/brutella/dnssd"
	"github.com/jochenvg/go-udev"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/config"
)

// Detector probes one transport family for candidate devices, bounded by
// its own Timeout, per spec.md §4.5/§5.
type Detector interface {
	Name() string
	Timeout() time.Duration
	Detect(ctx context.Context) ([]capture.DetectedDevice, error)
}

func builtinDetectors(cfg config.Config) []Detector {
	return []Detector{
		&serialDetector{timeout: cfg.Detectors.SerialEnumeration},
		&networkDetector{timeout: cfg.Detectors.NetworkProbe},
		&saleaeDetector{timeout: cfg.Detectors.SaleaeProbe},
		&sigrokDetector{timeout: cfg.Detectors.SigrokCLI},
		&rigolSiglentDetector{timeout: cfg.Detectors.NetworkProbe},
	}
}

// serialDetector enumerates USB-attached tty devices via udev, the same
// real device-property source a production Linux tool uses instead of
// scanning /dev by naming convention.
type serialDetector struct{ timeout time.Duration }

func (d *serialDetector) Name() string         { return "serial" }
func (d *serialDetector) Timeout() time.Duration { return d.timeout }

func (d *serialDetector) Detect(ctx context.Context) ([]capture.DetectedDevice, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchSubsystem("tty"); err != nil {
		return nil, fmt.Errorf("serial detector: %w", err)
	}

	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("serial detector: %w", err)
	}

	var out []capture.DetectedDevice
	for _, dev := range devices {
		vendor := dev.PropertyValue("ID_VENDOR_ID")
		if vendor == "" {
			continue // not a USB-backed tty (e.g. onboard UART); skip.
		}
		product := dev.PropertyValue("ID_MODEL_ID")
		devnode := dev.Devnode()
		if devnode == "" {
			continue
		}
		out = append(out, capture.DetectedDevice{
			ID:               fmt.Sprintf("%s:%s", vendor, product),
			Name:             dev.PropertyValue("ID_MODEL") + " " + devnode,
			Type:             capture.DeviceSerial,
			ConnectionString: devnode,
			Confidence:       60,
			Capabilities:     map[string]string{"vendor_id": vendor, "product_id": product},
		})
	}
	return out, nil
}

// networkDetector browses for the workbench's own mDNS service type, the
// discovery-side counterpart to the teacher's dns_sd.go announcer.
type networkDetector struct{ timeout time.Duration }

const networkServiceType = "_logicanalyzer._tcp"

func (d *networkDetector) Name() string         { return "network" }
func (d *networkDetector) Timeout() time.Duration { return d.timeout }

func (d *networkDetector) Detect(ctx context.Context) ([]capture.DetectedDevice, error) {
	var out []capture.DetectedDevice
	add := func(e dnssd.BrowseEntry) {
		if len(e.IPs) == 0 {
			return
		}
		out = append(out, capture.DetectedDevice{
			ID:               e.Name,
			Name:             e.Name,
			Type:             capture.DeviceNetwork,
			ConnectionString: fmt.Sprintf("%s:%d", e.IPs[0].String(), e.Port),
			Confidence:       75,
		})
	}
	remove := func(e dnssd.BrowseEntry) {}

	err := dnssd.LookupType(ctx, networkServiceType+".local.", add, remove)
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("network detector: %w", err)
	}
	return out, nil
}

// saleaeDetector probes the Saleae Logic2 automation API's conventional
// local TCP port; a successful connect is taken as device presence, since
// the bridge does not expose a lighter-weight presence check.
type saleaeDetector struct{ timeout time.Duration }

func (d *saleaeDetector) Name() string         { return "saleae" }
func (d *saleaeDetector) Timeout() time.Duration { return d.timeout }

func (d *saleaeDetector) Detect(ctx context.Context) ([]capture.DetectedDevice, error) {
	return probeTCPPort(ctx, "saleae", "localhost:10430", capture.DeviceNetwork, 50)
}

// rigolSiglentDetector probes the conventional LXI raw-socket port.
type rigolSiglentDetector struct{ timeout time.Duration }

func (d *rigolSiglentDetector) Name() string         { return "rigol_siglent" }
func (d *rigolSiglentDetector) Timeout() time.Duration { return d.timeout }

func (d *rigolSiglentDetector) Detect(ctx context.Context) ([]capture.DetectedDevice, error) {
	return probeTCPPort(ctx, "rigol_siglent", "localhost:5555", capture.DeviceNetwork, 50)
}

func probeTCPPort(ctx context.Context, id, addr string, typ capture.DeviceType, confidence int) ([]capture.DetectedDevice, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil // absence is not a detector error.
	}
	_ = conn.Close()
	return []capture.DetectedDevice{{
		ID:               id,
		Name:             addr,
		Type:             typ,
		ConnectionString: addr,
		Confidence:       confidence,
	}}, nil
}

// sigrokDetector shells out to `sigrok-cli --scan`, parsing lines of the
// form "driver - description at conn" the way the CLI reports connected
// hardware.
type sigrokDetector struct{ timeout time.Duration }

func (d *sigrokDetector) Name() string         { return "sigrok" }
func (d *sigrokDetector) Timeout() time.Duration { return d.timeout }

func (d *sigrokDetector) Detect(ctx context.Context) ([]capture.DetectedDevice, error) {
	cmd := exec.CommandContext(ctx, "sigrok-cli", "--scan")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, nil // sigrok-cli not installed or no devices; not fatal to detection as a whole.
	}

	var out []capture.DetectedDevice
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		driverName, rest, ok := strings.Cut(line, " - ")
		if !ok {
			continue
		}
		_, conn, ok := strings.Cut(rest, " at ")
		if !ok {
			continue
		}
		out = append(out, capture.DetectedDevice{
			ID:               fmt.Sprintf("%s:%s", driverName, conn),
			Name:             rest,
			Type:             capture.DeviceUSB,
			ConnectionString: fmt.Sprintf("%s:%s", driverName, conn),
			Confidence:       55,
		})
	}
	return out, nil
}
