// Package multidriver composes 2-5 underlying capture.Driver instances into
// one synchronized capture, per spec.md §4.4. Grounded on the teacher's
// multi_modem.go, which runs several audio decoders against one channel in
// parallel and only calls the frame "good" once every decoder variant has
// resolved it; here the roles invert (several drivers, one session) but the
// composite-success shape is the same: wait for all, fail on any.
package multidriver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/logging"
)

// MinDrivers and MaxDrivers bound how many sub-drivers a Multi driver may
// compose, per spec.md §4.5's "2 ≤ n ≤ 5" multi-device factory enforcement.
const (
	MinDrivers = 2
	MaxDrivers = 5
)

// channelRef matches a composite channel name of the form "M_i:channel_j",
// e.g. "M0:3", the identification scheme spec.md §4.4 assigns to channels
// in a multi-driver session.
var channelRef = regexp.MustCompile(`^M(\d+):(\d+)$`)

// Driver composes sub-drivers named M0...Mn. Sub-drivers[0] is the master:
// only it may supply the trigger condition for the composite capture.
type Driver struct {
	sub []capture.Driver
	log *log.Logger

	mu        sync.Mutex
	connected bool
	capturing bool
}

// New returns a Multi driver over sub, which must number between
// MinDrivers and MaxDrivers inclusive. sub[0] is the master.
func New(sub []capture.Driver) (*Driver, error) {
	if len(sub) < MinDrivers || len(sub) > MaxDrivers {
		return nil, fmt.Errorf("%w: multi driver requires %d..%d sub-drivers, got %d", capture.ErrBadParams, MinDrivers, MaxDrivers, len(sub))
	}
	return &Driver{sub: sub, log: logging.For("multi-driver")}, nil
}

// Connect connects every sub-driver in order. If any fails, already-connected
// sub-drivers are disconnected and the error is returned; the composite
// never reports partial success.
func (d *Driver) Connect(ctx context.Context) (capture.ConnectResult, error) {
	var total capture.DeviceInfo
	total.Version = fmt.Sprintf("multi(%d)", len(d.sub))
	total.MaxFrequency = ^uint32(0)
	total.BufferSize = ^uint32(0)

	for i, sub := range d.sub {
		res, err := sub.Connect(ctx)
		if err != nil {
			d.disconnectUpTo(ctx, i)
			return capture.ConnectResult{}, fmt.Errorf("M%d: %w", i, err)
		}
		total.ChannelCount += res.Device.ChannelCount
		if res.Device.MaxFrequency < total.MaxFrequency {
			total.MaxFrequency = res.Device.MaxFrequency
		}
		if res.Device.BufferSize < total.BufferSize {
			total.BufferSize = res.Device.BufferSize
		}
	}

	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()

	d.log.Info("connected", "sub_drivers", len(d.sub), "channels", total.ChannelCount)
	return capture.ConnectResult{Success: true, Device: total}, nil
}

func (d *Driver) disconnectUpTo(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		_ = d.sub[i].Disconnect(ctx)
	}
}

// Disconnect disconnects every sub-driver, collecting (but not stopping
// early on) the first error encountered.
func (d *Driver) Disconnect(ctx context.Context) error {
	var firstErr error
	for i, sub := range d.sub {
		if err := sub.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("M%d: %w", i, err)
		}
	}
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return firstErr
}

// split partitions a composite session's channels by sub-driver index,
// parsed from each CaptureChannel.Name's "M_i:channel_j" identifier.
func split(session *capture.CaptureSession) (map[int][]int, error) {
	bySub := make(map[int][]int)
	for ci, ch := range session.Channels {
		m := channelRef.FindStringSubmatch(ch.Name)
		if m == nil {
			return nil, fmt.Errorf("%w: channel %q is not in M_i:channel_j form", capture.ErrBadParams, ch.Name)
		}
		sub, _ := strconv.Atoi(m[1])
		bySub[sub] = append(bySub[sub], ci)
	}
	return bySub, nil
}

// StartCapture distributes session's channels to their owning sub-drivers
// by the M_i:channel_j naming convention, arms every sub-driver's own
// session, and invokes onComplete exactly once for the composite: success
// only when every sub-capture completes successfully, per spec.md §4.4.
func (d *Driver) StartCapture(ctx context.Context, session *capture.CaptureSession, onComplete capture.CaptureCompletedFunc) error {
	d.mu.Lock()
	if d.capturing {
		d.mu.Unlock()
		return capture.ErrBusy
	}
	if !d.connected {
		d.mu.Unlock()
		return capture.ErrDisconnected
	}
	d.mu.Unlock()

	bySub, err := split(session)
	if err != nil {
		return err
	}
	for sub := range bySub {
		if sub < 0 || sub >= len(d.sub) {
			return fmt.Errorf("%w: channel references M%d but only %d sub-drivers are configured", capture.ErrBadParams, sub, len(d.sub))
		}
	}

	type subSession struct {
		driverIdx int
		session   *capture.CaptureSession
		// compositeIdx[j] is the index into the composite session.Channels
		// that sub-channel j's samples are copied back into on completion.
		compositeIdx []int
	}

	subs := make([]subSession, 0, len(bySub))
	for sub, compositeIdxs := range bySub {
		ss := &capture.CaptureSession{
			Frequency:          session.Frequency,
			PreTriggerSamples:  session.PreTriggerSamples,
			PostTriggerSamples: session.PostTriggerSamples,
			LoopCount:          session.LoopCount,
			MeasureBursts:      session.MeasureBursts,
			CaptureMode:        session.CaptureMode,
		}
		if sub == 0 {
			ss.TriggerType = session.TriggerType
			ss.TriggerChannel = session.TriggerChannel
			ss.TriggerInverted = session.TriggerInverted
			ss.TriggerPattern = session.TriggerPattern
			ss.TriggerBitCount = session.TriggerBitCount
		}
		for _, ci := range compositeIdxs {
			m := channelRef.FindStringSubmatch(session.Channels[ci].Name)
			number, _ := strconv.Atoi(m[2])
			ss.Channels = append(ss.Channels, capture.CaptureChannel{Number: number, Name: session.Channels[ci].Name})
		}
		subs = append(subs, subSession{driverIdx: sub, session: ss, compositeIdx: compositeIdxs})
	}

	d.mu.Lock()
	d.capturing = true
	d.mu.Unlock()

	var (
		mu        sync.Mutex
		remaining = len(subs)
		failed    bool
	)

	for _, ss := range subs {
		ss := ss
		err := d.sub[ss.driverIdx].StartCapture(ctx, ss.session, func(success bool, sub *capture.CaptureSession) {
			mu.Lock()
			defer mu.Unlock()

			if success {
				for i, ci := range ss.compositeIdx {
					session.Channels[ci].Samples = sub.Channels[i].Samples
				}
			} else {
				failed = true
			}

			remaining--
			if remaining == 0 {
				d.mu.Lock()
				d.capturing = false
				d.mu.Unlock()
				onComplete(!failed, session)
			}
		})
		if err != nil {
			d.mu.Lock()
			d.capturing = false
			d.mu.Unlock()
			return fmt.Errorf("M%d: %w", ss.driverIdx, err)
		}
	}

	return nil
}

// StopCapture stops every sub-driver. The composite succeeds only if every
// sub-driver reports success.
func (d *Driver) StopCapture(ctx context.Context) (bool, error) {
	all := true
	for i, sub := range d.sub {
		ok, err := sub.StopCapture(ctx)
		if err != nil {
			return false, fmt.Errorf("M%d: %w", i, err)
		}
		all = all && ok
	}
	d.mu.Lock()
	d.capturing = false
	d.mu.Unlock()
	return all, nil
}

// EnterBootloader requests every sub-driver enter bootloader mode. The
// composite succeeds only if every sub-driver does.
func (d *Driver) EnterBootloader(ctx context.Context) (bool, error) {
	all := true
	for i, sub := range d.sub {
		ok, err := sub.EnterBootloader(ctx)
		if err != nil {
			return false, fmt.Errorf("M%d: %w", i, err)
		}
		all = all && ok
	}
	return all, nil
}

// GetVoltageStatus reports the master sub-driver's voltage rail, since a
// multi-device capture's trigger and primary power rail are owned by M0.
func (d *Driver) GetVoltageStatus(ctx context.Context) (string, error) {
	return d.sub[0].GetVoltageStatus(ctx)
}

var _ capture.Driver = (*Driver)(nil)
