// Command go-executor starts a http server that compiles and runs untrusted
// source code inside a sandbox.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/judgekit/go-executor/cmd/go-executor/config"
	restexecutor "github.com/judgekit/go-executor/cmd/go-executor/rest_executor"
	"github.com/judgekit/go-executor/cmd/go-executor/version"
	wsexecutor "github.com/judgekit/go-executor/cmd/go-executor/ws_executor"
	"github.com/judgekit/go-executor/env"
	"github.com/judgekit/go-executor/envexec"
	"github.com/judgekit/go-executor/executor"
	"github.com/judgekit/go-executor/language"
	"github.com/judgekit/go-executor/worker"
	"github.com/judgekit/go-executor/workspace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var logger *zap.Logger

func main() {
	conf := loadConf()
	if conf.Version {
		fmt.Println(version.Version)
		return
	}
	initLogger(conf)
	defer logger.Sync()
	if ce := logger.Check(zap.InfoLevel, "Config loaded"); ce != nil {
		ce.Write(zap.String("config", fmt.Sprintf("%+v", conf)))
	}
	warnIfNotLinux()

	ws := newWorkspaceManager(conf)
	languages := newLanguageRegistry(conf)
	environment, builderParam := newEnvironment(conf)
	work := newWorker(conf)
	work.Start()
	logger.Info("Worker started",
		zap.Int("parallelism", conf.Parallelism),
		zap.Int("queueDepth", conf.QueueDepth),
		zap.String("dir", ws.Root()),
		zap.Duration("timeLimitCheckInterval", conf.TimeLimitCheckerInterval))

	exec := newExecutor(conf, work, ws, languages, environment)

	servers := []initFunc{
		cleanUpWorker(work),
		initHTTPServer(conf, exec, builderParam),
		initMonitorHTTPServer(conf),
	}

	// Gracefully shutdown, with signal / HTTP server / Monitor HTTP server
	sig := make(chan os.Signal, 1+len(servers))

	stops := []stopFunc{}
	for _, s := range servers {
		start, stop := s()
		if start != nil {
			go func() {
				start()
				sig <- os.Interrupt
			}()
		}
		if stop != nil {
			stops = append(stops, stop)
		}
	}

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
loop:
	for s := range sig {
		switch s {
		case syscall.SIGINT:
			break loop
		case syscall.SIGTERM:
			if isManagedByPM2() {
				logger.Info("running with PM2, received SIGTERM (from systemd), ignoring")
			} else {
				break loop
			}
		}
	}
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Shutting Down...")

	ctx, cancel := context.WithTimeout(context.TODO(), time.Second*3)
	defer cancel()

	var eg errgroup.Group
	for _, s := range stops {
		eg.Go(func() error {
			return s(ctx)
		})
	}

	go func() {
		logger.Info("Shutdown Finished", zap.Error(eg.Wait()))
		cancel()
	}()
	<-ctx.Done()
}

func warnIfNotLinux() {
	if runtime.GOOS != "linux" {
		logger.Warn("Platform is not supported", zap.String("GOOS", runtime.GOOS))
		logger.Warn("Programs could only be sandboxed on Linux, every request will fail to launch")
	}
}

func loadConf() *config.Config {
	var conf config.Config
	if err := conf.Load(); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalln("load config failed ", err)
	}
	return &conf
}

type (
	stopFunc func(ctx context.Context) error
	initFunc func() (start func(), cleanUp stopFunc)
)

func cleanUpWorker(work worker.Worker) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		return nil, func(ctx context.Context) error {
			work.Shutdown()
			logger.Info("Worker shutdown")
			return nil
		}
	}
}

func initHTTPServer(conf *config.Config, exec *executor.Executor, builderParam map[string]any) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		// Init http handle
		r := initHTTPMux(conf, exec, builderParam)
		srv := http.Server{
			Addr:    conf.HTTPAddr,
			Handler: r,
		}

		return func() {
				lis, err := newListener(conf.HTTPAddr)
				if err != nil {
					logger.Error("Http server listen failed", zap.Error(err))
					return
				}
				logger.Info("Starting http server", zap.String("addr", conf.HTTPAddr), zap.String("listener", printListener(lis)))
				if err := srv.Serve(lis); errors.Is(err, http.ErrServerClosed) {
					logger.Info("Http server stopped", zap.Error(err))
				} else {
					logger.Error("Http server stopped", zap.Error(err))
				}
			}, func(ctx context.Context) error {
				logger.Info("Http server shutting down")
				return srv.Shutdown(ctx)
			}
	}
}

func initMonitorHTTPServer(conf *config.Config) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		// Init monitor HTTP server
		mr := initMonitorHTTPMux(conf)
		if mr == nil {
			return nil, nil
		}
		msrv := http.Server{
			Addr:    conf.MonitorAddr,
			Handler: mr,
		}
		return func() {
				lis, err := newListener(conf.MonitorAddr)
				if err != nil {
					logger.Error("Monitoring http listen failed", zap.Error(err))
					return
				}
				logger.Info("Starting monitoring http server", zap.String("addr", conf.MonitorAddr), zap.String("listener", printListener(lis)))
				logger.Info("Monitoring http server stopped", zap.Error(msrv.Serve(lis)))
			}, func(ctx context.Context) error {
				logger.Info("Monitoring http server shutdown")
				return msrv.Shutdown(ctx)
			}
	}
}

func initLogger(conf *config.Config) {
	if conf.Silent {
		logger = zap.NewNop()
		return
	}

	var err error
	if conf.Release {
		logger, err = zap.NewProduction()
	} else {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !conf.EnableDebug {
			config.Level.SetLevel(zap.InfoLevel)
		}
		logger, err = config.Build()
	}
	if err != nil {
		log.Fatalln("init logger failed ", err)
	}
}

func initHTTPMux(conf *config.Config, exec *executor.Executor, builderParam map[string]any) http.Handler {
	var r *gin.Engine
	if conf.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r = gin.New()
	r.Use(ginzap.Ginzap(logger, "", false))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	// Metrics Handle
	if conf.EnableMetrics {
		initGinMetrics(r)
	}

	// Version handle
	r.GET("/version", generateHandleVersion(conf, builderParam))

	// Add auth token
	if conf.AuthToken != "" {
		r.Use(tokenAuth(conf.AuthToken))
		logger.Info("Attach token auth")
	}

	// Config handle exposes the scratch root and runner parameters
	r.GET("/config", generateHandleConfig(conf, exec, builderParam))

	// Language handle is not rate limited
	restexecutor.NewLanguageHandle(exec.Languages()).Register(r)

	if conf.RateLimit > 0 {
		r.Use(restexecutor.NewRateLimiter(float64(conf.RateLimit), conf.RateBurst).Middleware())
		logger.Info("Attach rate limit", zap.Int("rate", conf.RateLimit), zap.Int("burst", conf.RateBurst))
	}

	// Rest Handle
	cmdHandle := restexecutor.NewCmdHandle(exec, logger)
	cmdHandle.Register(r)

	// WebSocket Handle
	wsHandle := wsexecutor.New(exec, logger)
	wsHandle.Register(r)

	return r
}

func initMonitorHTTPMux(conf *config.Config) http.Handler {
	if !conf.EnableMetrics && !conf.EnableDebug {
		return nil
	}
	mux := http.NewServeMux()
	if conf.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if conf.EnableDebug {
		initDebugRoute(mux)
	}
	return mux
}

func initDebugRoute(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func tokenAuth(token string) gin.HandlerFunc {
	const bearer = "Bearer "
	return func(c *gin.Context) {
		reqToken := c.GetHeader("Authorization")
		if strings.HasPrefix(reqToken, bearer) && reqToken[len(bearer):] == token {
			c.Next()
			return
		}
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}

func newWorkspaceManager(conf *config.Config) *workspace.Manager {
	if conf.Dir == "" {
		if runtime.GOOS == "linux" {
			conf.Dir = "/dev/shm"
		} else {
			conf.Dir = os.TempDir()
		}
		conf.Dir = filepath.Join(conf.Dir, "go-executor")
	}
	var opts []workspace.Option
	if conf.EnableMetrics {
		opts = append(opts, workspace.WithObserver(workspaceObserve))
	}
	// programs run as ContainerCred when the server runs as root
	if runtime.GOOS == "linux" && os.Geteuid() == 0 && conf.ContainerCred > 0 {
		opts = append(opts, workspace.WithOwner(conf.ContainerCred, conf.ContainerCred))
	}
	m, err := workspace.NewManager(conf.Dir, logger, opts...)
	if err != nil {
		logger.Fatal("Failed to create workspace manager", zap.Error(err))
	}
	// directories left by a previous crashed process
	n, err := m.Sweep()
	if err != nil {
		logger.Fatal("Failed to sweep scratch root", zap.String("dir", conf.Dir), zap.Error(err))
	}
	if n > 0 {
		logger.Warn("Removed stale workspaces", zap.Int("count", n), zap.String("dir", conf.Dir))
	}
	return m
}

func newLanguageRegistry(conf *config.Config) *language.Registry {
	var (
		r   *language.Registry
		err error
	)
	if _, statErr := os.Stat(conf.LanguageConf); statErr == nil {
		r, err = language.LoadFile(conf.LanguageConf)
		if err != nil {
			logger.Fatal("Failed to load toolchain config", zap.String("path", conf.LanguageConf), zap.Error(err))
		}
		logger.Info("Loaded toolchain config", zap.String("path", conf.LanguageConf))
	} else {
		r = language.Default()
	}
	logger.Info("Supported languages", zap.Strings("languages", r.Names()))
	return r
}

func newEnvironment(conf *config.Config) (envexec.Environment, map[string]any) {
	e, param, err := env.NewBuilder(env.Config{
		NetShare:      conf.NetShare,
		SeccompConf:   conf.SeccompConf,
		MountConf:     conf.MountConf,
		ContainerCred: conf.ContainerCred,
		NoFallback:    conf.NoFallback,
	}, logger)
	if err != nil {
		logger.Fatal("create environment failed ", zap.Error(err))
	}
	return e, param
}

func newWorker(conf *config.Config) worker.Worker {
	c := worker.Config{
		Parallelism: conf.Parallelism,
		QueueDepth:  conf.QueueDepth,
		Logger:      logger,
	}
	if conf.EnableMetrics {
		c.Observer = workerObserve
	}
	return worker.New(c)
}

func newExecutor(conf *config.Config, work worker.Worker, ws *workspace.Manager, languages *language.Registry, environment envexec.Environment) *executor.Executor {
	c := executor.Config{
		Worker:      work,
		Workspace:   ws,
		Languages:   languages,
		Environment: environment,
		Logger:      logger,
		Ceiling: executor.Limits{
			CPUTime:  conf.CPULimit,
			WallTime: conf.ClockLimit,
			Memory:   *conf.MemoryLimit,
			Output:   *conf.OutputLimit,
		},
		FileSizeLimit:         *conf.FileSizeLimit,
		OpenFileLimit:         uint64(conf.OpenFileLimit),
		ExtraMemoryLimit:      *conf.ExtraMemoryLimit,
		TimeLimitTickInterval: conf.TimeLimitCheckerInterval,
	}
	if conf.EnableMetrics {
		c.ExecObserver = execObserve
	}
	return executor.New(c)
}

func generateHandleVersion(_ *config.Config, _ map[string]any) func(*gin.Context) {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"buildVersion": version.Version,
			"goVersion":    runtime.Version(),
			"platform":     runtime.GOARCH,
			"os":           runtime.GOOS,
			"batch":        true,
			"websocket":    true,
		})
	}
}

func generateHandleConfig(conf *config.Config, exec *executor.Executor, builderParam map[string]any) func(*gin.Context) {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"scratchRoot":  conf.Dir,
			"parallelism":  conf.Parallelism,
			"queueDepth":   conf.QueueDepth,
			"languages":    exec.Languages().Names(),
			"cpuLimit":     conf.CPULimit.Milliseconds(),
			"clockLimit":   conf.ClockLimit.Milliseconds(),
			"memoryLimit":  conf.MemoryLimit.Byte(),
			"outputLimit":  conf.OutputLimit.Byte(),
			"runnerConfig": builderParam,
		})
	}
}

func isManagedByPM2() bool {
	// List of environment variables that pm2 typically sets.
	pm2EnvVars := []string{
		"PM2_HOME",
		"PM2_JSON_PROCESSING",
		"NODE_APP_INSTANCE",
	}
	for _, v := range pm2EnvVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}
