package main

import (
	"aqmap-bk/internal/app/docs"
	"aqmap-bk/internal/app/router"
	"aqmap-bk/internal/module/batch"
	"aqmap-bk/internal/module/recon"
	"aqmap-bk/internal/module/status"
	"aqmap-bk/internal/module/trial"
	"aqmap-bk/internal/pkg/broadcast"
	"aqmap-bk/internal/pkg/client/dockerd"
	"aqmap-bk/internal/pkg/config"
	"aqmap-bk/internal/pkg/fleet"
	"aqmap-bk/internal/pkg/log"
	"aqmap-bk/internal/pkg/sysinfo"
	"aqmap-bk/internal/pkg/token"
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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           aqmap-bk
// @version         0.0.1-alpha
// @description     aquatic trial fleet control plane
// @schema			http
// @BasePath        /api/v1
func main() {
	var (
		logOutput          string
		logFormat          string
		logFile            string
		logLevel           string
		configPath         string
		dockerTimeout      time.Duration
		reconcileInterval  time.Duration
		pushInterval       time.Duration
		srvlisenAddr       string
		srvshutdownTimeout time.Duration
	)
	app := kingpin.New(filepath.Base(os.Args[0]), "aquatic trial fleet backend server.")
	app.HelpFlag.Short('h')
	// Logging related flags
	app.Flag("log.level", "Log level, one of [debug, info, warn, error].").Default("info").EnumVar(&logLevel, "debug", "info", "warn", "error")
	app.Flag("log.output", "Log output, one of [stdout, stderr, file].").Default("stderr").EnumVar(&logOutput, "stdout", "stderr", "file")
	app.Flag("log.format", "Log format, one of [json, text].").Default("text").EnumVar(&logFormat, "json", "text")
	app.Flag("log.file", "Log file path when --output=file.").PlaceHolder("PATH").StringVar(&logFile)
	app.Flag("config", "Path to the YAML configuration file.").Default("configs/config.yaml").StringVar(&configPath)
	app.Flag("docker.timeout", "Timeout for Docker engine API requests (Go duration, e.g. 5s, 1m).").Default("30s").DurationVar(&dockerTimeout)
	app.Flag("batch.reconcile-interval", "Period of the batch reconciliation loop.").Default("5s").DurationVar(&reconcileInterval)
	app.Flag("status.push-interval", "Period of the websocket status pusher.").Default("2s").DurationVar(&pushInterval)
	app.Flag("server.listen-addr", "Server listen address (e.g. :8000 or 127.0.0.1:8000)").Default(":8000").StringVar(&srvlisenAddr)
	app.Flag("server.shutdown-timeout", "Graceful shutdown timeout (e.g. 10s)").Default("10s").DurationVar(&srvshutdownTimeout)
	// Cross-flag validation
	app.PreAction(func(*kingpin.ParseContext) error {
		if strings.EqualFold(logOutput, "file") {
			if !isValidFilePath(logFile) {
				return fmt.Errorf("invalid --file path: %q", logFile)
			}
		}
		return nil
	})
	app.Version(version.Print("aqmap-bk"))

	_, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("failed to parse commandline arguments: %w", err))
		app.Usage(os.Args[1:])
		os.Exit(2)
	}
	// 创建 Logger
	logger, logClose, err := log.NewLogger(logOutput, logFormat, logFile, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to create logger: %v\n", err)
		return
	}
	defer logClose()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("unable to load config", slog.String("path", configPath), slog.Any("err", err))
		os.Exit(1)
	}
	tokenTTL, err := time.ParseDuration(cfg.Auth.Expiration)
	if err != nil {
		logger.Error("invalid auth.expiration", slog.String("value", cfg.Auth.Expiration), slog.Any("err", err))
		os.Exit(1)
	}

	// 创建各模块路由
	backend, err := dockerd.New(cfg.Fleet.VNCPort, dockerTimeout, logger)
	if err != nil {
		logger.Error("unable to create docker client", slog.Any("err", err))
		os.Exit(1)
	}
	defer backend.Close()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := backend.Ping(pingCtx); err != nil {
		logger.Warn("docker engine not reachable at startup", slog.Any("err", err))
	}
	pingCancel()

	aggregator := fleet.NewAggregator(backend, cfg.Fleet.Prefix, cfg.Fleet.DataDir, logger)
	sampler := sysinfo.NewSampler(nil, logger)
	hub := broadcast.NewHub(logger)
	tokens := token.NewManager(cfg.Auth.JWTSecret, tokenTTL)
	auth := status.AuthRequired(tokens)

	scheduler := batch.NewScheduler(backend, aggregator, hub, batch.Config{
		Image:             cfg.Fleet.Image,
		Command:           cfg.Fleet.Command,
		BasePort:          cfg.Fleet.BasePort,
		VNCPort:           cfg.Fleet.VNCPort,
		DataDir:           cfg.Fleet.DataDir,
		MountDir:          cfg.Fleet.MountDir,
		ReconcileInterval: reconcileInterval,
	}, logger)
	runner := recon.NewRunner(nil, cfg.Reconstruction.Python, cfg.Reconstruction.Script,
		cfg.Reconstruction.Workdir, cfg.Reconstruction.ResultsDir, logger)

	batchRouter := batch.NewRouter(scheduler, auth)
	trialRouter := trial.NewRouter(backend, aggregator, hub, scheduler, runner, auth, logger)
	reconRouter := recon.NewRouter(runner, aggregator, hub, auth)
	statusRouter := status.NewRouter(aggregator, sampler, hub, tokens, auth,
		cfg.Auth.Username, cfg.Auth.PasswordHash, pushInterval, logger)
	// Build router
	r := router.New()

	docs.SwaggerInfo.BasePath = "/api/v1"
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 注册所有模块
	router.Register(
		statusRouter,
		batchRouter,
		trialRouter,
		reconRouter,
	)
	router.Mount(r)

	pusherCtx, pusherCancel := context.WithCancel(context.Background())
	defer pusherCancel()
	go statusRouter.RunPusher(pusherCtx)

	srv := &http.Server{
		Addr:              srvlisenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", srvlisenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", slog.Any("err", err))
			os.Exit(1)
		}
	case <-quit:
		// proceed to shutdown
	}
	logger.Info("shutting down server...")
	scheduler.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), srvshutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("err", err))
	}
	logger.Info("server exiting")
}

// isValidFilePath performs a light-weight validation for file paths.
// It accepts both absolute and relative paths and rejects empty paths
// or paths that end with a path separator (which usually indicate a directory).
func isValidFilePath(p string) bool {
	if strings.TrimSpace(p) == "" {
		return false
	}
	// Reject paths that end with a separator, which imply directories
	if strings.HasSuffix(p, string(os.PathSeparator)) {
		return false
	}
	base := filepath.Base(p)
	if base == "." || base == string(os.PathSeparator) {
		return false
	}
	return true
}
