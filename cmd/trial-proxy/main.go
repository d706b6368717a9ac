package main

import (
	"aqmap-bk/internal/pkg/log"
	"aqmap-bk/internal/proxy"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/version"
)

func main() {
	var (
		logOutput          string
		logFormat          string
		logFile            string
		logLevel           string
		basePort           int
		upstreamHost       string
		srvlisenAddr       string
		srvshutdownTimeout time.Duration
	)
	app := kingpin.New(filepath.Base(os.Args[0]), "hostname-routed VNC reverse proxy for trial workloads.")
	app.HelpFlag.Short('h')
	app.Flag("log.level", "Log level, one of [debug, info, warn, error].").Default("info").EnumVar(&logLevel, "debug", "info", "warn", "error")
	app.Flag("log.output", "Log output, one of [stdout, stderr, file].").Default("stderr").EnumVar(&logOutput, "stdout", "stderr", "file")
	app.Flag("log.format", "Log format, one of [json, text].").Default("text").EnumVar(&logFormat, "json", "text")
	app.Flag("log.file", "Log file path when --output=file.").PlaceHolder("PATH").StringVar(&logFile)
	app.Flag("proxy.base-port", "Base VNC port; trial N is reached on base-port+N.").Default("6080").IntVar(&basePort)
	app.Flag("proxy.upstream-host", "Host the trial VNC servers listen on.").Default("127.0.0.1").StringVar(&upstreamHost)
	app.Flag("server.listen-addr", "Proxy listen address (e.g. :80 or 127.0.0.1:8900)").Default(":80").StringVar(&srvlisenAddr)
	app.Flag("server.shutdown-timeout", "Graceful shutdown timeout (e.g. 10s)").Default("10s").DurationVar(&srvshutdownTimeout)
	app.PreAction(func(*kingpin.ParseContext) error {
		if strings.EqualFold(logOutput, "file") && strings.TrimSpace(logFile) == "" {
			return fmt.Errorf("--log.file is required when --log.output=file")
		}
		return nil
	})
	app.Version(version.Print("trial-proxy"))

	_, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("failed to parse commandline arguments: %w", err))
		app.Usage(os.Args[1:])
		os.Exit(2)
	}
	logger, logClose, err := log.NewLogger(logOutput, logFormat, logFile, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to create logger: %v\n", err)
		return
	}
	defer logClose()

	srv := &http.Server{
		Addr:              srvlisenAddr,
		Handler:           proxy.New(basePort, upstreamHost, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("proxy listening", slog.String("addr", srvlisenAddr), slog.Int("base_port", basePort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("proxy failed", slog.Any("err", err))
			os.Exit(1)
		}
	case <-quit:
	}
	logger.Info("shutting down proxy...")
	ctx, cancel := context.WithTimeout(context.Background(), srvshutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("proxy forced to shutdown", slog.Any("err", err))
	}
	logger.Info("proxy exiting")
}
