package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/RyanBlaney/sonido-pulse/beat"
	"github.com/RyanBlaney/sonido-pulse/beat/config"
	"github.com/RyanBlaney/sonido-pulse/capture"
	"github.com/RyanBlaney/sonido-pulse/logging"
	"github.com/RyanBlaney/sonido-pulse/transport"
)

var (
	input       = flag.String("input", "mic", `audio input: "mic" (PortAudio, or the default device via ffmpeg), a .wav file, or anything ffmpeg can read`)
	inputFormat = flag.String("input-format", "", "ffmpeg input format for device inputs (pulse, alsa, avfoundation)")
	streamType  = flag.String("stream-type", "", `network stream type for ffmpeg inputs ("icecast", "hls")`)
	realtime    = flag.Bool("realtime", true, "play file inputs at real-time speed")
	frameSize   = flag.Int("frame-size", 1024, "samples per analysis frame (1024 or 2048)")
	dcCutoff    = flag.Float64("dc-cutoff", 0, "DC blocking filter cutoff in Hz (0 disables)")

	sensitivity = flag.Float64("sensitivity", 0.5, "initial detection sensitivity [0,1]")
	smoothing   = flag.Float64("smoothing", 0.7, "feature smoothing coefficient [0.3,0.9], smaller is smoother")
	fluxWindow  = flag.Int("flux-window", 3, "spectral flux window length (1-7 frames)")
	policy      = flag.String("threshold-policy", "linear", `sensitivity to threshold mapping ("linear" or "inverse")`)

	ports     = flag.String("ports", strings.Join(transport.DefaultPorts, ","), "comma-separated serial ports to try")
	baud      = flag.Int("baud", 250000, "serial baud rate")
	binary    = flag.Bool("binary", false, "use the binary sequence protocol")
	noSerial  = flag.Bool("no-serial", false, "run without an LED controller")
	listPorts = flag.Bool("list-ports", false, "list serial ports and exit")

	tick        = flag.Duration("tick", 10*time.Millisecond, "control loop period")
	recalibrate = flag.Duration("recalibrate", 2*time.Second, "sensitivity recalibration period (0 disables)")
	anticipate  = flag.Bool("anticipate", true, "send anticipatory pulses ahead of predicted beats")
	status      = flag.Duration("status", 5*time.Second, "status log period (0 disables)")

	logLevel = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	noColor  = flag.Bool("no-color", false, "disable colored log output")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		logging.Fatal(err, "sonido-pulse stopped with an error")
	}
}

func run() error {
	logger := logging.NewDefaultLogger()
	if *noColor {
		logger = logging.NewDefaultLoggerNoColor()
	}
	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logging.SetGlobalLogger(logger)

	if *listPorts {
		names, err := transport.ListPorts()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source, err := openSource()
	if err != nil {
		return err
	}
	defer source.Close()

	cfg := config.DefaultConfig()
	cfg.Analyzer.SampleRate = source.SampleRate()
	cfg.Analyzer.FrameSize = *frameSize
	cfg.Analyzer.DCCutoffHz = *dcCutoff
	cfg.Smoothing.Alpha = *smoothing
	cfg.Smoothing.FluxWindow = *fluxWindow
	cfg.Sensitivity.Initial = *sensitivity

	engine := beat.NewEngine(cfg)
	engine.SetThresholdPolicy(config.ThresholdPolicyByName(*policy))

	tcfg := transport.DefaultConfig()
	tcfg.Ports = splitPorts(*ports)
	tcfg.BaudRate = *baud
	tcfg.Binary = *binary

	link := transport.NewLink(tcfg)
	if !*noSerial {
		ok, msg := link.Connect()
		if ok {
			logger.Info(msg)
		} else {
			logger.Warn("Running without LED controller", logging.Fields{"reason": msg})
		}
		defer link.Close()
	}

	dispatcher := transport.NewDispatcher(link, tcfg.QueueSize, tcfg.Binary)
	dispatcher.Start()
	defer dispatcher.Stop()

	output := transport.NewBeatOutput(dispatcher, tcfg)
	if err := engine.Start(output.OnBeat); err != nil {
		return err
	}
	defer engine.Stop()

	loopCtx, stopLoop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		controlLoop(loopCtx, engine, output, link)
	}()

	logger.Info("Listening", logging.Fields{
		"input":       *input,
		"sample_rate": cfg.Analyzer.SampleRate,
		"frame_size":  cfg.Analyzer.FrameSize,
	})

	err = source.Stream(ctx, engine.ProcessFrame)
	stopLoop()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("capture failed: %w", err)
	}
	return nil
}

func openSource() (capture.Source, error) {
	ccfg := capture.DefaultConfig()
	ccfg.FrameSize = *frameSize
	ccfg.Realtime = *realtime

	switch {
	case *input == "mic":
		return capture.OpenDefaultInput(ccfg)
	case strings.HasSuffix(strings.ToLower(*input), ".wav"):
		src, err := capture.OpenWAV(*input, ccfg)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		ff := capture.DefaultFFmpegConfig()
		ff.Input = *input
		ff.InputFormat = *inputFormat
		ff.StreamType = *streamType
		ff.ReadRate = *realtime && *inputFormat == "" && *streamType == ""
		return capture.NewFFmpegSource(ff, ccfg), nil
	}
}

func splitPorts(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// controlLoop runs beside capture: anticipatory pulses every tick, periodic
// sensitivity recalibration, controller messages and a status line.
func controlLoop(ctx context.Context, engine *beat.Engine, output *transport.BeatOutput, link *transport.Link) {
	logger := logging.WithFields(logging.Fields{"component": "control_loop"})

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()

	var lastRecalibration, lastStatus time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if *anticipate {
				if pulse, ok := engine.Anticipate(); ok {
					output.Pulse(pulse.Intensity)
					logger.Debug("Anticipatory pulse", logging.Fields{
						"intensity": pulse.Intensity,
						"lead_ms":   pulse.Lead.Milliseconds(),
					})
				}
			}

			for link.HasData() {
				line := link.ReadLine()
				if line == "" {
					break
				}
				logger.Debug("Controller message", logging.Fields{"line": line})
			}

			if *recalibrate > 0 && now.Sub(lastRecalibration) >= *recalibrate {
				lastRecalibration = now
				engine.Recalibrate()
			}

			if *status > 0 && now.Sub(lastStatus) >= *status {
				lastStatus = now
				logStatus(logger, engine)
			}
		}
	}
}

func logStatus(logger logging.Logger, engine *beat.Engine) {
	state := engine.Snapshot()
	fields := logging.Fields{
		"energy":      fmt.Sprintf("%.3f", state.Features.Energy),
		"sensitivity": fmt.Sprintf("%.2f", state.Sensitivity),
		"beats":       state.BeatCount,
		"recent":      state.RecentBeats,
	}
	if bpm, ok := engine.EstimateBPM(); ok {
		fields["bpm"] = fmt.Sprintf("%.1f", bpm)
	}
	if len(state.Pattern) > 0 {
		names := make([]string, len(state.Pattern))
		for i, t := range state.Pattern {
			names[i] = t.String()
		}
		fields["pattern"] = strings.Join(names, "-")
		fields["confidence"] = fmt.Sprintf("%.2f", state.Confidence)
	}
	logger.Info("Status", fields)
}
