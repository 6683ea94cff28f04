// Command logicanalyzer is a thin front end over the capture and decode
// planes: connect to (or auto-detect) a device, run one capture session,
// decode the requested protocol out of the captured channels, and print
// or export the resulting annotations.
//
// Grounded on the teacher's kissutil.go, which wires pflag directly in
// main() with the same flat flag-variable style used here, rather than a
// subcommand framework.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture"
	capmgr "github.com/flyingcys/pico-logicanalyzer-sub009/capture/manager"
	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/manager"
	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/clock"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/config"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/logging"
)

func main() {
	var (
		configPath   = pflag.StringP("config", "c", "", "Path to a YAML settings document (defaults built in if omitted)")
		deviceArg    = pflag.StringP("device", "d", "autodetect", "Device selector: \"autodetect\", \"network\", or a detected device ID")
		host         = pflag.String("host", "", "Network device host (with --device network)")
		port         = pflag.String("port", "", "Network device port (with --device network)")
		channelsArg  = pflag.StringP("channels", "n", "0,1", "Comma-separated capture channel numbers")
		frequency    = pflag.Uint32P("frequency", "f", 1000000, "Sample frequency in Hz")
		preSamples   = pflag.Uint32("pre-samples", 100, "Pre-trigger sample count")
		postSamples  = pflag.Uint32("post-samples", 1000, "Post-trigger sample count")
		decoderID    = pflag.StringP("decoder", "D", "", "Decoder id to run against the captured channels (e.g. i2c, spi, uart)")
		selection    = pflag.String("map", "", "captureChannel:decoderChannel pairs, comma-separated, e.g. 0:0,1:1")
		exportDir    = pflag.String("export-dir", "", "Directory to write a CSV of decode annotations to (skipped if empty)")
		help         = pflag.Bool("help", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - capture and decode from a logic-analyzer device.\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	log := logging.For("logicanalyzer")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error("config load failed", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx := context.Background()
	mgr := capmgr.New(cfg, clock.System)

	params := map[string]string{}
	if *host != "" {
		params["host"] = *host
	}
	if *port != "" {
		params["port"] = *port
	}

	drv, err := mgr.ConnectToDevice(ctx, *deviceArg, params)
	if err != nil {
		log.Error("connect failed", "err", err)
		os.Exit(1)
	}
	defer mgr.DisconnectCurrentDevice(ctx)

	channels, err := parseChannelList(*channelsArg)
	if err != nil {
		log.Error("bad --channels", "err", err)
		os.Exit(1)
	}

	session := &capture.CaptureSession{
		Frequency:          *frequency,
		PreTriggerSamples:  *preSamples,
		PostTriggerSamples: *postSamples,
		Channels:           channels,
	}

	done := make(chan *capture.CaptureSession, 1)
	err = drv.StartCapture(ctx, session, func(success bool, s *capture.CaptureSession) {
		if !success {
			log.Error("capture failed")
		}
		done <- s
	})
	if err != nil {
		log.Error("start capture failed", "err", err)
		os.Exit(1)
	}
	s := <-done

	if *decoderID == "" {
		log.Info("capture complete", "channels", len(s.Channels), "samples", s.TotalSamples())
		return
	}

	sampleMap := make(map[int][]byte, len(s.Channels))
	for _, ch := range s.Channels {
		sampleMap[ch.Number] = ch.Samples
	}
	sel, err := parseSelection(*selection, s.Channels)
	if err != nil {
		log.Error("bad --map", "err", err)
		os.Exit(1)
	}

	decMgr := manager.New()
	result, err := decMgr.ExecuteDecoder(*decoderID, uint64(*frequency), sampleMap, sel, runtime.NewOptions(nil), clock.System)
	if err != nil {
		log.Error("decode failed", "err", err)
		os.Exit(1)
	}
	log.Info("decode complete", "annotations", len(result.Annotations), "duration", result.Duration, "samples_per_sec", result.SamplesPerSecond)

	for _, a := range result.Annotations {
		fmt.Printf("[%d-%d] type=%d %s\n", a.Start, a.End, a.AnnotationType, strings.Join(a.Values, " "))
	}

	if *exportDir != "" {
		exp, err := manager.NewExporter(*exportDir, "capture-%Y%m%d.csv", clock.System)
		if err != nil {
			log.Error("exporter init failed", "err", err)
			os.Exit(1)
		}
		path, err := exp.Export(fmt.Sprintf("%d", time.Now().Unix()), result.Annotations)
		if err != nil {
			log.Error("export failed", "err", err)
			os.Exit(1)
		}
		log.Info("exported", "path", path)
	}
}

func parseChannelList(arg string) ([]capture.CaptureChannel, error) {
	parts := strings.Split(arg, ",")
	out := make([]capture.CaptureChannel, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q: %w", p, err)
		}
		out = append(out, capture.CaptureChannel{Number: n, Name: fmt.Sprintf("CH%d", n)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}
	return out, nil
}

// parseSelection parses "captureChannel:decoderChannel" pairs; if empty,
// defaults to an identity mapping over the captured channels.
func parseSelection(arg string, channels []capture.CaptureChannel) (map[int]int, error) {
	sel := make(map[int]int)
	if arg == "" {
		for _, ch := range channels {
			sel[ch.Number] = ch.Number
		}
		return sel, nil
	}
	for _, pair := range strings.Split(arg, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		halves := strings.SplitN(pair, ":", 2)
		if len(halves) != 2 {
			return nil, fmt.Errorf("invalid mapping %q", pair)
		}
		captureIdx, err := strconv.Atoi(halves[0])
		if err != nil {
			return nil, fmt.Errorf("invalid capture channel %q: %w", halves[0], err)
		}
		decoderIdx, err := strconv.Atoi(halves[1])
		if err != nil {
			return nil, fmt.Errorf("invalid decoder channel %q: %w", halves[1], err)
		}
		sel[captureIdx] = decoderIdx
	}
	return sel, nil
}
