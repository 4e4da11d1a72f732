package app

import (
	"fmt"

	"taskcadence/internal/config"
	"taskcadence/internal/eventbus"
	"taskcadence/internal/runner"
	"taskcadence/internal/storage"
	logx "taskcadence/pkg/logx"
)

// Core is what every entry point needs: config, logging, the store and a
// runner. The CLI uses it directly; App adds the long-running services.
type Core struct {
	Config *config.ConfigManager
	Log    logx.Logger
	Logs   *logx.Service
	Bus    eventbus.Bus
	Store  storage.Store
	Runner *runner.Runner
}

// OpenCore loads cfgPath (falling back to defaults when the file does not
// exist), starts logging and opens storage.
func OpenCore(cfgPath string, opts ...runner.Option) (*Core, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage (%s): %w", sc.Driver, err)
	}
	log.Debug("storage opened", logx.String("driver", sc.Driver))

	rc, err := mapRunnerConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	bus := eventbus.New()
	ropts := append([]runner.Option{
		runner.WithLogger(log.With(logx.String("comp", "runner"))),
		runner.WithBus(bus),
	}, opts...)

	return &Core{
		Config: cfgm,
		Log:    log,
		Logs:   logs,
		Bus:    bus,
		Store:  store,
		Runner: runner.New(store, rc, ropts...),
	}, nil
}

// Close releases storage and flushes logs.
func (c *Core) Close() error {
	var err error
	if c.Store != nil {
		err = c.Store.Close()
	}
	if c.Logs != nil {
		_ = c.Logs.Close()
	}
	return err
}
