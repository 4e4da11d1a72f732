package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskcadence/internal/config"
	"taskcadence/internal/notifier"
	"taskcadence/internal/runner"
	"taskcadence/internal/runtime/supervisor"
	"taskcadence/internal/scheduler"
	logx "taskcadence/pkg/logx"
)

// App is the long-running daemon: the core plus the daily trigger, the
// operator notifier and config hot reload.
type App struct {
	*Core

	sched *scheduler.Service
	notif *notifier.Service
	sup   *supervisor.Supervisor

	// trigger is the currently scheduled spec for the generate job.
	mu      sync.Mutex
	trigger string
	daily   bool
}

// New wires the daemon from cfgPath. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	core, err := OpenCore(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg := core.Config.Get()

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	sched := scheduler.New(scfg, core.Log.With(logx.String("comp", "scheduler")))

	sender, err := buildSender(cfg)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	notif := notifier.New(mapNotifierConfig(cfg), sender, core.Bus, core.Log.With(logx.String("comp", "notifier")))

	return &App{Core: core, sched: sched, notif: notif}, nil
}

func buildSender(cfg *config.Config) (notifier.Sender, error) {
	nc := cfg.Notifier
	if nc == nil || !nc.Enabled {
		return notifier.NopSender{}, nil
	}
	// Offline: a transient network error at boot must not keep the daemon down.
	return notifier.NewTelegram(nc.Token, nc.ChatID, nc.ThreadID, true)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.Log), supervisor.WithCancelOnError(true))
	cfg := a.Config.Get()

	a.Config.SetValidator(func(_ context.Context, next *config.Config) error {
		if _, err := mapSchedulerConfig(next); err != nil {
			return err
		}
		_, err := mapRunnerConfig(next)
		return err
	})

	if err := a.schedule(cfg); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	if next, ok := a.sched.Next(jobGenerate); ok && a.sched.Enabled() {
		a.Log.Info("next generation run", logx.Time("at", next), logx.String("tz", a.sched.Location().String()))
	}

	a.sup.Go("notifier", a.notif.Run)

	if cfg.Scheduler.RunOnStart {
		a.sup.Go("startup.run", func(c context.Context) error {
			if _, err := a.Runner.Run(c, runner.TriggerStartup, a.Runner.Today()); err != nil {
				a.Log.Warn("startup run failed", logx.Err(err))
			}
			return nil
		})
	}

	// Debug-level trail of bus traffic.
	events, unsub := a.Bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.Log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.Config.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.Config.Unsubscribe(sub)
		lastApplied := a.Config.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.Config.Watch, time.Second, 30*time.Second)

	a.startWatchdog()
	notifyReady(a.Log)
	a.Log.Info("app started", logx.String("config", a.Config.Path()))
	return nil
}

// schedule (re)registers the generate job when its trigger changed.
func (a *App) schedule(cfg *config.Config) error {
	spec, daily := triggerSpec(cfg)

	a.mu.Lock()
	defer a.mu.Unlock()
	if spec == a.trigger && daily == a.daily {
		return nil
	}
	job := func(ctx context.Context) error {
		_, err := a.Runner.Run(ctx, runner.TriggerSchedule, a.Runner.Today())
		return err
	}
	var err error
	if daily {
		err = a.sched.AddDaily(jobGenerate, spec, job)
	} else {
		err = a.sched.AddCron(jobGenerate, spec, job)
	}
	if err != nil {
		return fmt.Errorf("schedule %s: %w", jobGenerate, err)
	}
	a.trigger, a.daily = spec, daily
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.Log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.Log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.Logs.Apply(mapLogConfig(newCfg))

	if scfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.Log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scfg)
		if err := a.schedule(newCfg); err != nil {
			a.Log.Warn("invalid trigger; keeping previous", logx.Err(err))
		}
	}
	if rc, err := mapRunnerConfig(newCfg); err != nil {
		a.Log.Warn("invalid runner config; keeping previous", logx.Err(err))
	} else {
		a.Runner.Apply(rc.Location, rc.FailureLogEvery)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.Log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Core.Close()
	}
	a.Log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.Log)

	// Stop triggering first so no new run starts while the rest unwinds.
	a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Stop)
	a.step(ctx, "storage", 2*time.Second, func(context.Context) error { return a.Store.Close() })

	err := a.sup.Err()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.Log.Info("stopped")
	if a.Logs != nil {
		_ = a.Logs.Close()
	}
	return err
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.Log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.Log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.Log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
