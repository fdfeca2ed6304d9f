package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/autotune/api"
	"github.com/banshee-data/autotune/internal/autotune"
	"github.com/banshee-data/autotune/internal/config"
	"github.com/banshee-data/autotune/internal/device"
	"github.com/banshee-data/autotune/internal/telemetry"
	"github.com/banshee-data/autotune/internal/timeutil"
	"github.com/banshee-data/autotune/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file")
	devMode    = flag.Bool("dev", false, "Run against a simulated process instead of hardware")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
)

func main() {
	flag.Parse()

	log.Printf("autotune %s (%s)", version.Version, version.GitSHA)

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	addr := cfg.GetListenAddr()
	if *listen != "" {
		addr = *listen
	}

	clock := timeutil.RealClock{}
	source, actuator, closers, err := buildDevices(cfg, clock)
	if err != nil {
		log.Fatalf("failed to open devices: %v", err)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	store, err := telemetry.NewStore(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open telemetry database: %v", err)
	}
	defer store.Close()

	runner, err := newRunner(cfg, source, actuator, clock)
	if err != nil {
		log.Fatalf("failed to create tuning session: %v", err)
	}
	runner.SetTelemetry(store)
	runner.OnComplete(func(res autotune.Result) {
		if err := store.RecordResult(res); err != nil {
			log.Printf("failed to record result: %v", err)
		}
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// tuning session loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(ctx)
		log.Print("tuning session terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (tailsql, backup)
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
		}

		apiMux := api.NewServer(runner, store, cfg.GetTuningRule()).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))
		mux.Handle("/", apiMux)

		server := &http.Server{
			Addr:    addr,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	// The deactivation in Stop is a no-op for already-finished sessions,
	// but a SIGINT mid-run must leave the actuator off.
	runner.Stop()
	log.Printf("graceful shutdown complete")
}

// newRunner assembles the session from the resolved configuration.
func newRunner(cfg *config.Config, source device.Source, actuator device.Actuator, clock timeutil.Clock) (*autotune.Runner, error) {
	direction, err := autotune.ParseDirection(cfg.GetDirection())
	if err != nil {
		return nil, err
	}
	mode, err := autotune.ParseOutputMode(cfg.GetOutputMode())
	if err != nil {
		return nil, err
	}
	return autotune.NewRunner(autotune.RunnerConfig{
		Tuner: autotune.Config{
			Setpoint:   cfg.GetSetpoint(),
			OutputStep: cfg.GetOutputStep(),
			SampleTime: cfg.GetSamplePeriod(),
			Lookback:   cfg.GetLookback(),
			OutputMin:  cfg.GetOutputMin(),
			OutputMax:  cfg.GetOutputMax(),
			NoiseBand:  cfg.GetNoiseBand(),
			Tolerance:  cfg.GetTolerance(),
			Direction:  direction,
		},
		Mode:      mode,
		Preflight: cfg.GetPreflight(),
		Rule:      cfg.GetTuningRule(),
		MaxCycles: cfg.GetMaxCycles(),
	}, source, actuator, clock)
}

// buildDevices opens the configured hardware, or a simulated process in dev
// mode.
func buildDevices(cfg *config.Config, clock timeutil.Clock) (device.Source, device.Actuator, []io.Closer, error) {
	if *devMode {
		sim := newSimProcess(cfg, clock)
		return sim, sim, nil, nil
	}

	var closers []io.Closer

	opts := device.DefaultRTUOptions()
	opts.BaudRate = cfg.GetModbusBaud()
	probeClient, probeCloser, err := device.OpenRTU(cfg.GetModbusPort(), byte(cfg.GetProbeSlaveID()), opts)
	if err != nil {
		return nil, nil, nil, err
	}
	closers = append(closers, probeCloser)
	probe := device.NewArcProbe(cfg.GetProbeKind(), probeClient, clock)

	var actuator device.Actuator
	switch cfg.GetActuatorKind() {
	case "mfc":
		mfc, err := device.OpenAlicat(cfg.GetAlicatPort(), 19200, cfg.GetAlicatUnit(), clock)
		if err != nil {
			closeAll(closers)
			return nil, nil, nil, err
		}
		closers = append(closers, mfc)
		actuator = mfc
	default:
		relayClient, relayCloser, err := device.OpenRTU(cfg.GetModbusPort(), byte(cfg.GetRelaySlaveID()), opts)
		if err != nil {
			closeAll(closers)
			return nil, nil, nil, err
		}
		closers = append(closers, relayCloser)
		actuator = device.NewRelay(relayClient, uint16(cfg.GetRelayCoil()), clock)
	}

	return probe, actuator, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}
