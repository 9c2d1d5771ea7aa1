// Command steadyscriptd runs the SteadyScript tremor-assessment pipeline:
// camera capture, marker detection, jitter smoothing, session scoring,
// HUD overlay, and the MJPEG/duplex-websocket stream server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/steadyscript/steadyscript/internal/capture"
	"github.com/steadyscript/steadyscript/internal/config"
	"github.com/steadyscript/steadyscript/internal/detect"
	"github.com/steadyscript/steadyscript/internal/led"
	"github.com/steadyscript/steadyscript/internal/logger"
	"github.com/steadyscript/steadyscript/internal/metrics"
	"github.com/steadyscript/steadyscript/internal/overlay"
	"github.com/steadyscript/steadyscript/internal/session"
	"github.com/steadyscript/steadyscript/internal/smoother"
	"github.com/steadyscript/steadyscript/internal/store"
	"github.com/steadyscript/steadyscript/internal/stream"
	"github.com/steadyscript/steadyscript/pkg/types"
)

var (
	bindAddr    = flag.String("bind", ":8081", "HTTP bind address for the stream server")
	metricsAddr = flag.String("metrics", ":9090", "Prometheus metrics bind address")
	cameraIndex = flag.Int("camera-index", -1, "Camera index override (-1: use config)")
	logLevel    = flag.String("log-level", "", "Log level override (debug, info, warn, error, silent)")
	sessionsPath = flag.String("sessions-file", "", "Session history file path override")
	ledPath     = flag.String("led-serial-path", "", "LED gateway serial device path override")
)

const tickInterval = 33 * time.Millisecond // ~30fps, matches the teacher's poll cadence

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *cameraIndex >= 0 {
		cfg.CameraIndex = *cameraIndex
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *sessionsPath != "" {
		cfg.SessionsFile = *sessionsPath
	}
	if *ledPath != "" {
		cfg.LedSerialPath = *ledPath
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, true)
	logger.Info("main", "steadyscriptd starting (pen color=%s, camera index=%d)", cfg.PenColor, cfg.CameraIndex)

	mx := metrics.New()

	st, err := store.Open(cfg.SessionsFile)
	if err != nil {
		logger.Error("main", "failed to open session store: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	ledGw := led.Open(cfg.LedSerialPath)
	defer ledGw.Close()

	capSrc := capture.NewSource(capture.NewWebcamDevice())
	if err := capSrc.Open(cfg.CameraIndex); err != nil {
		logger.Error("main", "failed to open camera: %v", err)
		os.Exit(1)
	}
	defer capSrc.Close()

	initialHsv := types.HsvRange{
		HLo: cfg.DefaultHsv.HLo, HHi: cfg.DefaultHsv.HHi,
		SLo: cfg.DefaultHsv.SLo, SHi: cfg.DefaultHsv.SHi,
		VLo: cfg.DefaultHsv.VLo, VHi: cfg.DefaultHsv.VHi,
	}
	det := detect.New(initialHsv)
	sm := smoother.New(cfg.StabilityWindowSize)
	ctrl := session.New(types.Point{X: 320, Y: 240})

	srv := stream.NewServer(st, mx, time.Duration(cfg.WsHeartbeatInterval)*time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		capSrc.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mx.StartServer(ctx, *metricsAddr); err != nil {
			logger.Error("main", "metrics server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("main", "stream server listening on %s", *bindAddr)
		if err := serveUntilCancel(ctx, *bindAddr, srv); err != nil {
			logger.Error("main", "stream server error: %v", err)
		}
	}()

	wg.Add(1)
	go runPipeline(ctx, &wg, capSrc, det, sm, ctrl, ledGw, st, mx, srv)

	<-ctx.Done()
	logger.Info("main", "shutdown signal received, draining pipeline")
	wg.Wait()
	logger.Info("main", "steadyscriptd stopped")
}

// runPipeline is the single task that owns the session controller and
// detector (spec §5): one tick applies any queued duplex/REST commands,
// reads the latest captured frame, detects and smooths the marker,
// advances the session, renders the overlay, and publishes to the stream
// server — in that order, so a frame is never observed half-applied.
func runPipeline(
	ctx context.Context,
	wg *sync.WaitGroup,
	capSrc *capture.Source,
	det *detect.Detector,
	sm *smoother.Smoother,
	ctrl *session.Controller,
	ledGw *led.Gateway,
	st *store.Store,
	mx *metrics.Metrics,
	srv *stream.Server,
) {
	defer wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drainCommands(srv, det, ctrl, mx)
			ctrl.SetActiveHsv(det.Hsv())

			frame, err := capSrc.Read(ctx)
			if err != nil {
				return
			}

			capStats := capSrc.Stats()
			mx.FramesCaptured.Store(capStats.FramesCaptured)
			mx.FramesDropped.Store(capStats.FramesDropped)
			mx.CaptureErrors.Store(capStats.ReadErrors)

			obs := det.Detect(frame)
			mx.DetectErrors.Store(det.Errors())
			if obs.Detected {
				mx.MarkerDetectedFrames.Add(1)
			}

			var jitterNow, p95 float64
			if obs.Detected {
				_, jitterNow = sm.Observe(*obs.Position)
				p95 = sm.P95Jitter()
			} else {
				sm.Expire()
			}

			wasRunning := ctrl.State() == types.StateRunning
			ctrl.Tick(obs, jitterNow)
			if wasRunning && ctrl.State() == types.StateComplete {
				finalizeSession(ctrl, ledGw, st, mx, srv)
			}

			if ctrl.Mode() == types.ModeHold && ctrl.State() == types.StateRunning {
				ledGw.Update(insideHoldCircle(ctrl, obs))
			}
			mx.LedWriteFailures.Store(ledGw.WriteFailures())

			snap := ctrl.Snapshot(jitterNow, p95)
			extras := buildExtras(ctrl, obs, snap)
			jpegBytes, err := overlay.Render(frame, extras)
			if err != nil {
				logger.Warn("pipeline", "overlay render failed: %v", err)
				continue
			}

			mx.FramesProcessed.Add(1)
			srv.Publish(jpegBytes, snap)
		}
	}
}

func insideHoldCircle(ctrl *session.Controller, obs types.MarkerObservation) bool {
	if ctrl.Mode() != types.ModeHold || ctrl.Calibration() == nil || !obs.Detected {
		return false
	}
	c := ctrl.Calibration()
	dx := float64(obs.Position.X - c.Center.X)
	dy := float64(obs.Position.Y - c.Center.Y)
	return dx*dx+dy*dy <= c.Radius*c.Radius
}

func finalizeSession(ctrl *session.Controller, ledGw *led.Gateway, st *store.Store, mx *metrics.Metrics, srv *stream.Server) {
	rec := ctrl.LastRecord()
	if rec == nil {
		return
	}
	mx.SessionsCompleted.Add(1)
	if err := st.Append(*rec); err != nil {
		mx.StoreWriteFailures.Add(1)
		logger.Warn("pipeline", "failed to persist session record: %v", err)
	} else {
		mx.StoreWritesOK.Add(1)
	}
	srv.PublishSessionComplete(*rec)
}

func buildExtras(ctrl *session.Controller, obs types.MarkerObservation, snap types.MetricsSnapshot) overlay.Extras {
	ex := overlay.Extras{
		Connected:   true,
		Mode:        ctrl.Mode(),
		State:       ctrl.State(),
		Observation: obs,
		Calibration: ctrl.Calibration(),
		Inside:      insideHoldCircle(ctrl, obs),
		Elapsed:     ctrl.Elapsed(),
		Remaining:   ctrl.TimeRemaining(),
		Bpm:         ctrl.Bpm(),
	}
	if snap.BeatCount != nil {
		ex.BeatCount = *snap.BeatCount
	}
	if ctrl.Mode() == types.ModeFollow && ctrl.State() == types.StateRunning {
		t := ctrl.TargetPosition(ctrl.Elapsed())
		ex.TargetPos = &t
	}
	if ctrl.State() == types.StateComplete {
		if rec := ctrl.LastRecord(); rec != nil {
			score := rec.TremorScore
			ex.FinalScore = &score
			ex.ShowFinalFor = time.Since(rec.Timestamp) < time.Second
		}
	}
	return ex
}

// drainCommands applies every queued duplex/REST command to the shared
// detector/controller before this tick's frame is processed, per spec §5's
// between-frames application contract.
func drainCommands(srv *stream.Server, det *detect.Detector, ctrl *session.Controller, mx *metrics.Metrics) {
	for {
		select {
		case cmd := <-srv.Commands():
			applyCommand(cmd, det, ctrl, mx)
		default:
			return
		}
	}
}

func applyCommand(cmd stream.Command, det *detect.Detector, ctrl *session.Controller, mx *metrics.Metrics) {
	switch cmd.Type {
	case "mode_switch":
		var data stream.ModeSwitchData
		if err := unmarshalOrReject(cmd, &data); err != nil {
			return
		}
		if err := ctrl.ModeSwitch(types.Mode(data.Mode)); err != nil {
			cmd.Reject(err.Error())
		}
	case "session_start":
		if err := ctrl.SessionStart(); err != nil {
			cmd.Reject(err.Error())
		} else {
			mx.SessionsStarted.Add(1)
		}
	case "session_stop":
		ctrl.SessionStop()
	case "dismiss":
		if err := ctrl.Dismiss(); err != nil {
			cmd.Reject(err.Error())
		}
	case "calibration_click":
		var data stream.CalibrationClickData
		if err := unmarshalOrReject(cmd, &data); err != nil {
			return
		}
		if err := ctrl.CalibrationClick(types.Point{X: data.X, Y: data.Y}); err != nil {
			cmd.Reject(err.Error())
		}
	case "bpm_change":
		var data stream.BpmChangeData
		if err := unmarshalOrReject(cmd, &data); err != nil {
			return
		}
		if err := ctrl.BpmChange(data.Delta); err != nil {
			cmd.Reject(err.Error())
		}
	case "hsv_update":
		var data stream.HsvUpdateData
		if err := unmarshalOrReject(cmd, &data); err != nil {
			return
		}
		det.SetHsv(types.HsvRange{
			HLo: data.Lower[0], SLo: data.Lower[1], VLo: data.Lower[2],
			HHi: data.Upper[0], SHi: data.Upper[1], VHi: data.Upper[2],
		})
	default:
		cmd.Reject(fmt.Sprintf("unknown command type %q", cmd.Type))
	}
}

func unmarshalOrReject(cmd stream.Command, v any) error {
	if err := json.Unmarshal(cmd.Data, v); err != nil {
		cmd.Reject("malformed command data")
		return err
	}
	return nil
}

// serveUntilCancel runs srv's HTTP handler until ctx is cancelled, then
// shuts it down — mirrors metrics.Metrics.StartServer's ctx-driven
// lifecycle.
func serveUntilCancel(ctx context.Context, addr string, srv *stream.Server) error {
	httpSrv := &http.Server{Addr: addr, Handler: srv.Mux()}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return httpSrv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
