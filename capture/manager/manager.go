// Package manager implements the Driver Manager from spec.md §4.5: a
// priority-ordered registry of driver registrations, concurrent hardware
// detection with a short-lived cache, exact-then-generic device matching,
// and the "current device" slot every connect/disconnect operation goes
// through. Grounded on the teacher's dns_sd.go (inverted from announcer to
// discovery client) and callbacks.go (event hook shape); the registry/match
// machinery itself has no direct teacher analogue and is built from spec.md
// §4.5's operation list directly.
package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture"
	"github.com/flyingcys/pico-logicanalyzer-sub009/capture/multidriver"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/clock"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/config"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/logging"
)

// autoConnectAttempts bounds auto_connect to the highest-confidence device
// plus up to two runners-up, per spec.md §4.5.
const autoConnectAttempts = 3

// Manager is the driver manager. Zero value is not usable; use New.
type Manager struct {
	cfg config.Config
	clk clock.Clock
	log *log.Logger

	mu            sync.RWMutex
	registrations []capture.DriverRegistration
	byID          map[string]capture.DriverRegistration

	detectors []Detector

	cacheMu       sync.Mutex
	cachedDevices []capture.DetectedDevice
	cachedAt      time.Time

	subMu       sync.Mutex
	subscribers []func(Event)

	currentMu     sync.Mutex
	currentDriver capture.Driver
	currentDevice *capture.DetectedDevice
}

// New returns a Manager with the five built-in driver registrations and
// detectors already registered, per spec.md §4.5.
func New(cfg config.Config, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.System
	}
	m := &Manager{
		cfg:       cfg,
		clk:       clk,
		log:       logging.For("manager"),
		byID:      make(map[string]capture.DriverRegistration),
		detectors: builtinDetectors(cfg),
	}
	for _, reg := range builtinRegistrations() {
		_ = m.Register(reg)
	}
	return m
}

// Register adds reg to the registry, applying any configured priority
// override, and emits driver_registered. Re-registering an existing ID is
// an error.
func (m *Manager) Register(reg capture.DriverRegistration) error {
	m.mu.Lock()
	if _, exists := m.byID[reg.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: driver %q already registered", capture.ErrBadParams, reg.ID)
	}
	if prio, ok := m.cfg.PriorityFor(reg.ID); ok {
		reg.Priority = prio
	}
	m.byID[reg.ID] = reg
	m.registrations = append(m.registrations, reg)
	sort.SliceStable(m.registrations, func(i, j int) bool {
		return m.registrations[i].Priority > m.registrations[j].Priority
	})
	m.mu.Unlock()

	m.emit(Event{Kind: EventDriverRegistered, DriverID: reg.ID})
	return nil
}

// Unregister removes id from the registry, emitting driver_unregistered if
// it existed. Returns whether an entry was removed.
func (m *Manager) Unregister(id string) bool {
	m.mu.Lock()
	if _, exists := m.byID[id]; !exists {
		m.mu.Unlock()
		return false
	}
	delete(m.byID, id)
	kept := m.registrations[:0]
	for _, reg := range m.registrations {
		if reg.ID != id {
			kept = append(kept, reg)
		}
	}
	m.registrations = kept
	m.mu.Unlock()

	m.emit(Event{Kind: EventDriverUnregistered, DriverID: id})
	return true
}

// GetRegisteredDrivers returns the registry ordered by priority descending.
func (m *Manager) GetRegisteredDrivers() []capture.DriverRegistration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]capture.DriverRegistration, len(m.registrations))
	copy(out, m.registrations)
	return out
}

// MatchDriver implements spec.md §4.5's two-phase matching: an exact match
// (any of a registration's SupportedDeviceTags is a case-insensitive
// substring of the device's ID or Name) tried first in priority order, then
// a generic fallback keyed by transport type.
func (m *Manager) MatchDriver(device capture.DetectedDevice) (capture.DriverRegistration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id := strings.ToLower(device.ID)
	name := strings.ToLower(device.Name)
	for _, reg := range m.registrations {
		for _, tag := range reg.SupportedDeviceTags {
			t := strings.ToLower(tag)
			if strings.Contains(id, t) || strings.Contains(name, t) {
				return reg, true
			}
		}
	}

	var genericOrder []string
	switch device.Type {
	case capture.DeviceSerial:
		genericOrder = []string{idNative, idSigrok}
	case capture.DeviceNetwork:
		genericOrder = []string{idSaleae, idRigolSiglent, idNetwork}
	case capture.DeviceUSB:
		genericOrder = []string{idSigrok}
	}
	for _, id := range genericOrder {
		if reg, ok := m.byID[id]; ok {
			return reg, true
		}
	}
	return capture.DriverRegistration{}, false
}

// CreateDriver matches device to a registration and calls its factory with
// transport arguments parsed from device.ConnectionString.
func (m *Manager) CreateDriver(device capture.DetectedDevice) (capture.Driver, error) {
	reg, ok := m.MatchDriver(device)
	if !ok {
		return nil, fmt.Errorf("%w: no registered driver matches device %q", capture.ErrBadParams, device.ID)
	}
	args := parseConnectionArgs(device)
	drv, err := reg.Factory(args)
	if err != nil {
		return nil, err
	}
	m.emit(Event{Kind: EventDriverCreated, DriverID: reg.ID, Device: &device})
	return drv, nil
}

// CreateMultiDriver builds a multidriver.Driver over sub, enforcing the
// 2..5 bound, and emits multi_driver_created.
func (m *Manager) CreateMultiDriver(sub []capture.Driver) (*multidriver.Driver, error) {
	d, err := multidriver.New(sub)
	if err != nil {
		return nil, err
	}
	m.emit(Event{Kind: EventMultiDriverCreated})
	return d, nil
}

// parseConnectionArgs extracts factory arguments from a DetectedDevice's
// ConnectionString: "host:port" for network-family transports (default
// host "localhost", port "24000" per spec.md §4.5), "driver:deviceid" for
// Sigrok, and the raw string as a serial path otherwise.
func parseConnectionArgs(device capture.DetectedDevice) map[string]string {
	args := map[string]string{"connection_string": device.ConnectionString}
	switch device.Type {
	case capture.DeviceNetwork:
		host, port := "localhost", "24000"
		if cs := device.ConnectionString; cs != "" {
			if h, p, ok := strings.Cut(cs, ":"); ok {
				host, port = h, p
			} else {
				host = cs
			}
		}
		args["host"] = host
		args["port"] = port
	case capture.DeviceUSB:
		if driverName, conn, ok := strings.Cut(device.ConnectionString, ":"); ok {
			args["driver"] = driverName
			args["conn"] = conn
		}
	case capture.DeviceSerial:
		args["path"] = device.ConnectionString
	}
	return args
}

// DetectHardware runs every registered detector concurrently, bounded by
// its own timeout, dedupes by ConnectionString (keeping the
// highest-confidence variant), sorts descending by confidence, and caches
// the result for cfg.DetectionCacheTTL unless useCache is false.
func (m *Manager) DetectHardware(ctx context.Context, useCache bool) ([]capture.DetectedDevice, error) {
	if useCache {
		m.cacheMu.Lock()
		fresh := !m.cachedAt.IsZero() && m.clk.Now().Sub(m.cachedAt) < m.cfg.DetectionCacheTTL
		var cached []capture.DetectedDevice
		if fresh {
			cached = make([]capture.DetectedDevice, len(m.cachedDevices))
			copy(cached, m.cachedDevices)
		}
		m.cacheMu.Unlock()
		if fresh {
			return cached, nil
		}
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		all []capture.DetectedDevice
	)
	for _, det := range m.detectors {
		det := det
		wg.Add(1)
		go func() {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, det.Timeout())
			defer cancel()
			found, err := det.Detect(dctx)
			if err != nil {
				m.log.Warn("detector failed", "detector", det.Name(), "err", err)
				return
			}
			mu.Lock()
			all = append(all, found...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	deduped := dedupeByConnectionString(all)
	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Confidence > deduped[j].Confidence })

	m.cacheMu.Lock()
	m.cachedDevices = deduped
	m.cachedAt = m.clk.Now()
	m.cacheMu.Unlock()

	m.emit(Event{Kind: EventDevicesDetected, Devices: deduped})
	return deduped, nil
}

func dedupeByConnectionString(devices []capture.DetectedDevice) []capture.DetectedDevice {
	best := make(map[string]capture.DetectedDevice)
	order := make([]string, 0, len(devices))
	for _, d := range devices {
		if existing, ok := best[d.ConnectionString]; !ok || d.Confidence > existing.Confidence {
			if _, seen := best[d.ConnectionString]; !seen {
				order = append(order, d.ConnectionString)
			}
			best[d.ConnectionString] = d
		}
	}
	out := make([]capture.DetectedDevice, 0, len(order))
	for _, cs := range order {
		out = append(out, best[cs])
	}
	return out
}

// AutoConnect detects hardware (using the cache), then tries the
// highest-confidence device, falling back to up to two runners-up on
// failure, per spec.md §4.5.
func (m *Manager) AutoConnect(ctx context.Context) (capture.Driver, error) {
	devices, err := m.DetectHardware(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no devices detected", capture.ErrHardwareError)
	}

	var lastErr error
	for i := 0; i < len(devices) && i < autoConnectAttempts; i++ {
		device := devices[i]
		drv, err := m.CreateDriver(device)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := drv.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		m.setCurrent(drv, &device)
		m.emit(Event{Kind: EventDeviceConnected, Device: &device})
		return drv, nil
	}
	return nil, fmt.Errorf("%w: auto_connect exhausted %d candidates: %v", capture.ErrHardwareError, autoConnectAttempts, lastErr)
}

// ConnectToDevice resolves selector ("autodetect", "network", or a detected
// device's ID) to a driver, disconnects any previous current device first,
// connects, and installs the new current device/driver on success.
//
// Per the resolved Open Question in spec.md §9: when selector is "network"
// and params also supplies host/port, the caller-supplied params win over
// any value that would otherwise come from a ConnectionString.
func (m *Manager) ConnectToDevice(ctx context.Context, selector string, params map[string]string) (capture.Driver, error) {
	if selector == "autodetect" {
		return m.AutoConnect(ctx)
	}

	var (
		drv    capture.Driver
		device *capture.DetectedDevice
		err    error
	)

	if selector == "network" {
		reg, ok := m.byID[idNetwork]
		if !ok {
			return nil, fmt.Errorf("%w: network driver not registered", capture.ErrBadParams)
		}
		args := map[string]string{"host": "localhost", "port": "24000"}
		for k, v := range params {
			args[k] = v
		}
		drv, err = reg.Factory(args)
		if err != nil {
			return nil, err
		}
	} else {
		devices, derr := m.DetectHardware(ctx, true)
		if derr != nil {
			return nil, derr
		}
		for i := range devices {
			if devices[i].ID == selector {
				device = &devices[i]
				break
			}
		}
		if device == nil {
			return nil, fmt.Errorf("%w: no detected device with id %q", capture.ErrBadParams, selector)
		}
		drv, err = m.CreateDriver(*device)
		if err != nil {
			return nil, err
		}
	}

	if err := m.DisconnectCurrentDevice(ctx); err != nil {
		m.log.Warn("disconnecting previous current device failed", "err", err)
	}

	if _, err := drv.Connect(ctx); err != nil {
		return nil, err
	}

	m.setCurrent(drv, device)
	m.emit(Event{Kind: EventDeviceConnected, Device: device})
	return drv, nil
}

// DisconnectCurrentDevice disconnects and clears the current device slot.
// Safe to call when nothing is connected.
func (m *Manager) DisconnectCurrentDevice(ctx context.Context) error {
	m.currentMu.Lock()
	drv := m.currentDriver
	device := m.currentDevice
	m.currentDriver = nil
	m.currentDevice = nil
	m.currentMu.Unlock()

	if drv == nil {
		return nil
	}
	err := drv.Disconnect(ctx)
	m.emit(Event{Kind: EventDeviceDisconnected, Device: device})
	return err
}

// GetCurrentDevice returns the manager's current driver and detected
// device, or (nil, nil) if nothing is connected.
func (m *Manager) GetCurrentDevice() (capture.Driver, *capture.DetectedDevice) {
	m.currentMu.Lock()
	defer m.currentMu.Unlock()
	return m.currentDriver, m.currentDevice
}

func (m *Manager) setCurrent(drv capture.Driver, device *capture.DetectedDevice) {
	m.currentMu.Lock()
	m.currentDriver = drv
	m.currentDevice = device
	m.currentMu.Unlock()
}
