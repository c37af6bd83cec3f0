package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nvarga/daq-gateway/internal/control"
	"github.com/nvarga/daq-gateway/internal/device"
	"github.com/nvarga/daq-gateway/internal/fanout"
	"github.com/nvarga/daq-gateway/internal/files"
	"github.com/nvarga/daq-gateway/internal/metrics"
	"github.com/nvarga/daq-gateway/internal/processor"
)

// sessionRestartDelay is the supervisor's fixed backoff on panic or return
// of the session task (spec §5 "Restart semantics").
const sessionRestartDelay = 5 * time.Second

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("daq-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	dial, err := buildDialer(cfg)
	if err != nil {
		l.Error("dialer_init_error", "error", err)
		os.Exit(1)
	}

	fm, err := files.New(cfg.dataDir, cfg.filePrefix, cfg.fileExt)
	if err != nil {
		l.Error("files_init_error", "error", err)
		os.Exit(1)
	}

	session := device.NewSession(dial)
	proc := processor.New(cfg.burstCapacity)
	hub := fanout.New()
	surface := control.New(session, proc, hub, fm, cfg.endpoint, cfg.maxFiles)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	runSupervisedSession(ctx, session, l, &wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		runEventRouter(ctx, session, proc, hub, l)
	}()

	router := surface.Router()
	var httpHandler http.Handler = router
	if cfg.corsEnable {
		httpHandler = withCORS(router)
	}
	httpSrv := &http.Server{Addr: cfg.controlAddr, Handler: httpHandler}
	go func() {
		l.Info("control_http_listen", "addr", cfg.controlAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("control_http_error", "error", err)
			cancel()
		}
	}()

	if cfg.mdnsEnable {
		go func() {
			_, port, splitErr := splitPort(cfg.controlAddr)
			if splitErr != nil {
				l.Warn("mdns_port_parse_failed", "error", splitErr)
				return
			}
			cleanupMDNS, err := startMDNS(ctx, cfg, port)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
				return
			}
			l.Info("mdns_started", "service", mdnsServiceType, "port", port)
			go func() { <-ctx.Done(); cleanupMDNS() }()
		}()
	}

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil && session.Status().Connected })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	_ = httpSrv.Shutdown(context.Background())
	wg.Wait()
}

// runSupervisedSession starts the device session task and restarts it after
// sessionRestartDelay whenever it panics or returns, per spec §5 -- the
// session itself never self-restarts (device.Session.Run returns cleanly on
// ctx cancellation only).
func runSupervisedSession(ctx context.Context, session *device.Session, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			if ctx.Err() != nil {
				return
			}
			runOnce(ctx, session, l)
			if ctx.Err() != nil {
				return
			}
			l.Warn("session_task_restarting", "delay", sessionRestartDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(sessionRestartDelay):
			}
		}
	}()
}

func runOnce(ctx context.Context, session *device.Session, l *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			l.Warn("session_task_panicked", "recover", r)
		}
	}()
	session.Run(ctx)
}

func splitPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
