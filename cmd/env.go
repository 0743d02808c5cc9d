package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/warpdl/warpreq/common"
	"github.com/warpdl/warpreq/internal/config"
	"github.com/warpdl/warpreq/internal/history"
	"github.com/warpdl/warpreq/pkg/logger"
	"github.com/warpdl/warpreq/pkg/reqlib"
	"github.com/warpdl/warpreq/pkg/retry"
)

var (
	appFs     afero.Fs  = afero.NewOsFs()
	logOutput io.Writer = os.Stderr
)

// runtimeEnv is everything a request-sending command needs. Close flushes
// the manager before tearing down the journal.
type runtimeEnv struct {
	cfg     *config.Config
	log     logger.Logger
	logFile *os.File
	reqs    *reqlib.Manager
	retries *retry.Manager
	store   *history.Store
	journal *history.Journal
	metrics *metricsServer
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	if path := ctx.GlobalString("config"); path != "" {
		return config.Load(appFs, path)
	}
	return config.LoadFromEnv(appFs)
}

func newLogger(cfg config.LogConfig, debug bool) (logger.Logger, *os.File, error) {
	lvl, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if debug || common.DebugMode() {
		lvl = logger.LevelDebug
	}
	console := logger.NewLogrusLogger(logOutput)
	if cfg.File == "" {
		console.SetLevel(lvl)
		return console, nil, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	l := logger.NewMultiLogger(console, logger.NewLogrusLogger(f))
	l.SetLevel(lvl)
	return l, f, nil
}

// openHistory opens the completion journal database unless it is disabled.
func openHistory(cfg *config.Config) (*history.Store, error) {
	if cfg.History.Disabled {
		return nil, nil
	}
	return history.Open(cfg.History.Path)
}

// newEnv loads the configuration, lets the command override it and starts
// the request manager, the retry layer, the journal and, if requested, the
// metrics endpoint.
func newEnv(ctx *cli.Context, override func(*config.Config)) (*runtimeEnv, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	e := &runtimeEnv{cfg: cfg}
	if e.log, e.logFile, err = newLogger(cfg.Log, ctx.GlobalBool("debug")); err != nil {
		return nil, err
	}

	opts, err := cfg.Transport.HTTPTransportOpts()
	if err != nil {
		e.Close()
		return nil, err
	}
	factory, err := reqlib.NewHTTPTransportFactory(&opts)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.reqs, err = reqlib.NewManager(reqlib.Config{
		Worker:           cfg.Manager.WorkerConfig(),
		Flush:            cfg.Manager.FlushConfig(),
		TransportFactory: factory,
		Logger:           e.log,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.retries = retry.NewManager(e.reqs, retry.Config{Defaults: cfg.Retry.Policy()})

	if e.store, err = openHistory(cfg); err != nil {
		e.log.Warning("history disabled: %v", err)
	}
	if e.store != nil {
		e.journal = history.NewJournal(e.store, e.log, 0)
		e.journal.Attach(e.reqs)
	}

	if addr := ctx.GlobalString("metrics-addr"); addr != "" {
		if e.metrics, err = startMetricsServer(addr, e.reqs, e.log); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

func (e *runtimeEnv) Close() {
	if e.reqs != nil {
		e.reqs.Shutdown()
	}
	if e.journal != nil {
		e.journal.Close()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.log.Warning("close history: %v", err)
		}
	}
	if e.metrics != nil {
		_ = e.metrics.Close()
	}
	if e.logFile != nil {
		_ = e.logFile.Close()
	}
}
