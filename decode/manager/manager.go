// Package manager implements the Decoder Manager from spec.md §4.10: two
// factory registries (ordinary and streaming), lookup/search, and
// execution — batch and chunked — with a performance monitor attached to
// every execution result.
//
// Grounded on the teacher's multi_modem.go, which keeps a small registry
// of interchangeable per-channel processing units and dispatches a sample
// stream through whichever are registered, and audio_stats.go, whose
// samples/sec bookkeeping is reused here for the performance monitor.
package manager

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode"
	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/i2c"
	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/spi"
	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/uart"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/logging"
)

// registration pairs a decoder's static metadata with the factory that
// builds a fresh instance for each decode() invocation.
type registration struct {
	info    decode.Info
	factory decode.Factory
}

// Manager is the decoder-plane counterpart to capture/manager.Manager: a
// registry plus execution entry points, with no capture-plane knowledge.
type Manager struct {
	log *log.Logger

	mu        sync.RWMutex
	ordinary  map[string]registration
	streaming map[string]registration
}

// New returns a Manager with the built-in i2c/spi/uart decoders
// registered in both the ordinary and the streaming registry — spec.md
// §4.10 does not distinguish the two registries by protocol, only by how
// a caller chooses to invoke them, so every built-in decoder is reachable
// through both ExecuteDecoder and ExecuteStreamingDecoder.
func New() *Manager {
	m := &Manager{
		log:       logging.For("decode-manager"),
		ordinary:  make(map[string]registration),
		streaming: make(map[string]registration),
	}
	for _, d := range []decode.Factory{i2c.New, spi.New, uart.New} {
		info := d().Info()
		_ = m.Register(info, d)
		_ = m.RegisterStreaming(info, d)
	}
	return m
}

// Register adds id to the ordinary registry.
func (m *Manager) Register(info decode.Info, factory decode.Factory) error {
	return m.register(&m.ordinary, info, factory)
}

// RegisterStreaming adds id to the streaming registry.
func (m *Manager) RegisterStreaming(info decode.Info, factory decode.Factory) error {
	return m.register(&m.streaming, info, factory)
}

func (m *Manager) register(registry *map[string]registration, info decode.Info, factory decode.Factory) error {
	if info.ID == "" {
		return fmt.Errorf("%w: decoder id must not be empty", decode.ErrInvalidOption)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if *registry == nil {
		*registry = make(map[string]registration)
	}
	(*registry)[info.ID] = registration{info: info, factory: factory}
	return nil
}

// GetAvailableDecoders returns every ordinary-registry decoder's Info,
// sorted by id for deterministic listing.
func (m *Manager) GetAvailableDecoders() []decode.Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]decode.Info, 0, len(m.ordinary))
	for _, r := range m.ordinary {
		out = append(out, r.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetDecoderInfo looks up one decoder's metadata by id in the ordinary
// registry.
func (m *Manager) GetDecoderInfo(id string) (decode.Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ordinary[id]
	if !ok {
		return decode.Info{}, fmt.Errorf("%w: %q", decode.ErrDecoderNotFound, id)
	}
	return r.info, nil
}

// CreateDecoder builds a fresh Decoder instance from the ordinary
// registry's factory for id.
func (m *Manager) CreateDecoder(id string) (decode.Decoder, error) {
	m.mu.RLock()
	r, ok := m.ordinary[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", decode.ErrDecoderNotFound, id)
	}
	return r.factory(), nil
}

func (m *Manager) createStreamingDecoder(id string) (decode.Decoder, error) {
	m.mu.RLock()
	r, ok := m.streaming[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", decode.ErrDecoderNotFound, id)
	}
	return r.factory(), nil
}

// Search implements spec.md §4.10's substring search over id, name,
// long name, description, and tags (case-insensitive), over the ordinary
// registry.
func (m *Manager) Search(query string) []decode.Info {
	q := strings.ToLower(query)
	var out []decode.Info
	for _, info := range m.GetAvailableDecoders() {
		if matchesQuery(info, q) {
			out = append(out, info)
		}
	}
	return out
}

func matchesQuery(info decode.Info, q string) bool {
	if q == "" {
		return true
	}
	fields := []string{strings.ToLower(info.ID), strings.ToLower(info.Name), strings.ToLower(info.LongName), strings.ToLower(info.Description)}
	for _, f := range fields {
		if strings.Contains(f, q) {
			return true
		}
	}
	for _, tag := range info.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}
