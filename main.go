package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/config"
	"github.com/chaos-io/img2mesh/handler"
	"github.com/chaos-io/img2mesh/metrics"
	"github.com/chaos-io/img2mesh/model"
	"github.com/chaos-io/img2mesh/pipeline"
	"github.com/chaos-io/img2mesh/preprocess/rembg"
	"github.com/chaos-io/img2mesh/schedule"
	"github.com/chaos-io/img2mesh/store"
	"github.com/chaos-io/img2mesh/util"
	nhttp "github.com/chaos-io/img2mesh/util/http"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type flags struct {
	port       int
	share      bool
	modelPath  string
	device     string
	configPath string
}

func parseFlags() flags {
	var f flags
	flag.IntVar(&f.port, "port", 7860, "port to listen on")
	flag.BoolVar(&f.share, "share", false, "listen on all interfaces (public tunnels are not supported)")
	flag.StringVar(&f.modelPath, "model-path", "models/TripoSR", "path of the reconstruction model on the inference backend")
	flag.StringVar(&f.device, "device", model.DeviceAuto, "compute device: auto, cpu, or an accelerator id such as cuda:0")
	flag.StringVar(&f.configPath, "config", config.DefaultPath, "config file")
	flag.Parse()
	return f
}

// applyFlags 只有显式给出的参数才覆盖配置文件
func applyFlags(cfg *config.Config, f flags) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Server.Port = f.port
		case "share":
			cfg.Server.Share = f.share
		case "model-path":
			cfg.Model.Path = f.modelPath
		case "device":
			cfg.Model.Device = f.device
		}
	})
}

func main() {
	f := parseFlags()
	cfg := config.New(f.configPath)
	applyFlags(cfg, f)

	logFile, err := util.InitLogger(cfg.Server.Mode, cfg.Log.Dir)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.Sync()
	logger := util.Logger

	logger.Info("starting img2mesh server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("log_file", logFile))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("img2mesh", nil, logger)

	// 推理可能很慢，模型后端默认不设超时
	modelCli := nhttp.NewHTTPClientWithTimeout(cfg.Model.Timeout)
	rembgCli := nhttp.NewHTTPClientWithTimeout(cfg.Rembg.Timeout)

	models := model.NewLoader(func(ctx context.Context) (model.Reconstructor, error) {
		return model.Load(ctx, modelCli, model.Config{
			Endpoint:  cfg.Model.Endpoint,
			ModelPath: cfg.Model.Path,
			Device:    cfg.Model.Device,
		}, logger)
	}, logger)
	remover := rembg.NewLazy(func(ctx context.Context) (rembg.Remover, error) {
		return rembg.NewSession(ctx, rembgCli, rembg.Config{
			Endpoint: cfg.Rembg.Endpoint,
			Model:    cfg.Rembg.Model,
		}, logger)
	}, logger)

	pipe := pipeline.New(models, remover, cfg.Pipeline.MaxInputSize, cfg.Pipeline.OutputDir, logger,
		pipeline.WithObserver(collector))

	jobs := newJobStore(ctx, cfg, logger)
	defer func() {
		_ = jobs.Close()
	}()

	h := handler.New(pipe, jobs, handler.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}, logger)

	if cfg.Schedule.HealthProbe != "" {
		prober, err := schedule.NewProber(cfg.Schedule.HealthProbe, []schedule.Check{
			{Name: "model", Ping: func(ctx context.Context) error { return model.Ping(ctx, modelCli, cfg.Model.Endpoint) }},
			{Name: "rembg", Ping: func(ctx context.Context) error { return rembg.Ping(ctx, rembgCli, cfg.Rembg.Endpoint) }},
		}, collector, logger)
		if err != nil {
			logger.Fatal("failed to create health probe", zap.Error(err))
		}
		prober.Start()
		defer prober.Stop()
		h.WithBackendStatus(prober.Status)
	}

	gin.SetMode(cfg.Server.Mode)
	router := handler.NewRouter(ctx, h, collector, handler.RouterOptions{
		MaxUploadSize:  cfg.Upload.MaxSize,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
	}, logger)

	host := "127.0.0.1"
	if cfg.Server.Share {
		logger.Warn("public share links are not supported, listening on all interfaces instead")
		host = "0.0.0.0"
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}

// newJobStore 配置了 redis 且能连通时用 redis，否则退回内存
func newJobStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) store.Store {
	if cfg.Redis.Addr == "" {
		logger.Info("redis not configured, job records kept in memory")
		return store.NewMemoryStore()
	}

	rs := store.NewRedisStore(&cfg.Redis)
	if err := rs.Ping(ctx); err != nil {
		logger.Warn("redis connection failed, job records kept in memory", zap.Error(err))
		_ = rs.Close()
		return store.NewMemoryStore()
	}
	logger.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
	return rs
}
