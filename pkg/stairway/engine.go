// Package stairway wires every component — journal, worker pool, work
// queue, admission, recovery, retention, hooks, and optional cluster
// leader election — into one running engine instance.
package stairway

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/stairway/pkg/admission"
	"github.com/cuemby/stairway/pkg/cluster"
	"github.com/cuemby/stairway/pkg/config"
	"github.com/cuemby/stairway/pkg/factory"
	"github.com/cuemby/stairway/pkg/flight"
	"github.com/cuemby/stairway/pkg/hooks"
	"github.com/cuemby/stairway/pkg/journal"
	"github.com/cuemby/stairway/pkg/log"
	"github.com/cuemby/stairway/pkg/metrics"
	"github.com/cuemby/stairway/pkg/queue"
	"github.com/cuemby/stairway/pkg/recovery"
	"github.com/cuemby/stairway/pkg/retention"
	"github.com/cuemby/stairway/pkg/types"
	"github.com/cuemby/stairway/pkg/workerpool"
)

// Engine is the assembled instance of every engine component, the single
// type application code constructs to run Stairway.
type Engine struct {
	cfg *config.EngineConfig

	Journal   journal.Journal
	Queue     queue.Queue
	Factory   *factory.Registry
	Pool      *workerpool.Pool
	Admission *admission.Admission
	Recovery  *recovery.Coordinator
	Retention *retention.Janitor
	Hooks     *hooks.Multi
	Broker    *hooks.Broker
	Cluster   *cluster.Elector

	appContext any
}

// Option customizes an Engine at New time.
type Option func(*Engine)

// WithAppContext sets the opaque application_context handed to every
// Factory and Step invocation.
func WithAppContext(appContext any) Option {
	return func(e *Engine) { e.appContext = appContext }
}

// WithHooks adds extra lifecycle hooks beyond the broker-publishing hook
// the Engine always installs.
func WithHooks(extra ...types.Hook) Option {
	return func(e *Engine) {
		all := append([]types.Hook{hooks.NewPublishingHook(e.Broker)}, extra...)
		e.Hooks = hooks.NewMulti(all...)
	}
}

// New builds an Engine from cfg and a populated factory registry. It opens
// the journal connection and runs the Recovery Coordinator's Initialize
// step (schema migration when cfg.Migrate, table truncation when
// cfg.ForceClean), but does not start the worker pool, recovery sweep, or
// retention janitor — call Start for that.
func New(cfg *config.EngineConfig, classes *factory.Registry, opts ...Option) (*Engine, error) {
	j, err := journal.Open(cfg.DriverName, cfg.DataSource, journal.JSONSerializer{})
	if err != nil {
		return nil, err
	}

	if _, err := recovery.Initialize(context.Background(), j, cfg.DriverName, cfg.DataSource, cfg.ForceClean, cfg.Migrate, cfg.StairwayName); err != nil {
		j.Close()
		return nil, err
	}

	q, err := buildQueue(cfg, j)
	if err != nil {
		j.Close()
		return nil, err
	}

	broker := hooks.NewBroker()
	broker.Start()

	e := &Engine{
		cfg:     cfg,
		Journal: j,
		Queue:   q,
		Factory: classes,
		Broker:  broker,
		Hooks:   hooks.NewMulti(hooks.NewPublishingHook(broker)),
	}

	for _, opt := range opts {
		opt(e)
	}

	runner := &flight.Runner{
		Journal:  e.Journal,
		Factory:  e.Factory,
		Hooks:    e.Hooks,
		Instance: cfg.StairwayName,
	}
	e.Pool = workerpool.New(cfg.MaxParallel, cfg.MaxQueued, func(ctx context.Context, flightID string) {
		ctx = flight.WithAppContext(ctx, e.appContext)
		if err := runner.Run(ctx, flightID); err != nil {
			log.WithFlightID(flightID).Error().Err(err).Msg("flight run failed to even begin")
		}
	})

	e.Admission = admission.New(e.Journal, e.Queue, e.Pool, e.Factory, cfg.StairwayName, cfg.MaxQueued)
	e.Recovery = recovery.New(e.Journal, e.Queue, cfg.StairwayName)

	var leader retention.LeaderChecker
	if cfg.ClusterBindAddr != "" {
		e.Cluster = cluster.New(cfg.StairwayName, cfg.ClusterBindAddr, cfg.ClusterDataDir)
		leader = e.Cluster
	}
	e.Retention = retention.New(e.Journal, cfg.RetentionCheckInterval, cfg.CompletedFlightRetention, leader)

	return e, nil
}

func buildQueue(cfg *config.EngineConfig, j *journal.SQLJournal) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case config.QueueBackendSQL:
		return queue.NewSQLQueue(j.DB(), cfg.QueueVisibilityTimeout), nil
	case config.QueueBackendLocal, "":
		return queue.NewLocalQueue(cfg.LocalQueueDataDir, cfg.QueueVisibilityTimeout)
	default:
		return nil, fmt.Errorf("stairway: unknown queue backend %q", cfg.QueueBackend)
	}
}

// Start runs the Recovery Coordinator's startup sweep, treating every
// instance in deadPeers as dead, then starts the worker pool, the
// queue dispatch loop, and the retention janitor (and cluster leader
// election, if configured).
func (e *Engine) Start(ctx context.Context, deadPeers []string) error {
	if e.Cluster != nil {
		if err := e.Cluster.Bootstrap(); err != nil {
			return err
		}
	}

	if _, err := e.Recovery.RecoverAndStart(ctx, deadPeers); err != nil {
		return err
	}

	e.Pool.Start()
	e.Retention.Start()
	go e.dispatchLoop(ctx)

	log.WithInstance(e.cfg.StairwayName).Info().Msg("stairway: engine started")
	return nil
}

// dispatchLoop pulls Ready messages from the work queue and submits them
// to the local worker pool, claiming ownership before submission so a
// concurrent recovery pass on another instance never double-runs a
// flight.
func (e *Engine) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.Admission.Quiescing() {
				continue
			}
			budget := e.cfg.MaxQueued - e.Pool.Backlog()
			if budget <= 0 {
				continue
			}
			err := e.Queue.Dispatch(ctx, budget, func(payload string) bool {
				flightID, err := queue.DecodeReady(payload)
				if err != nil {
					log.WithComponent("stairway").Warn().Err(err).Msg("dropping malformed queue message")
					return true // ack: never redeliver a message we can't parse
				}
				ok, err := e.Journal.Claim(ctx, flightID, e.cfg.StairwayName)
				if err != nil || !ok {
					return false // nack: another instance claimed it first, or a transient error
				}
				if !e.Pool.TrySubmit(flightID) {
					_, _ = e.Journal.Disown(ctx, flightID, e.cfg.StairwayName)
					return false
				}
				return true
			})
			if err != nil {
				log.WithComponent("stairway").Error().Err(err).Msg("queue dispatch failed")
			}
		}
	}
}

// Shutdown quiesces admission (waiting up to quiesceTimeout for in-flight
// work to drain), then stops the retention janitor, worker pool, cluster
// elector, and closes the journal/queue.
func (e *Engine) Shutdown(ctx context.Context, quiesceTimeout time.Duration) error {
	if err := e.Admission.Quiesce(ctx, quiesceTimeout); err != nil {
		log.WithInstance(e.cfg.StairwayName).Warn().Err(err).Msg("quiesce did not complete cleanly")
	}
	e.Retention.Stop()
	e.Pool.Stop()
	if e.Cluster != nil {
		if err := e.Cluster.Shutdown(); err != nil {
			log.WithInstance(e.cfg.StairwayName).Warn().Err(err).Msg("cluster elector shutdown error")
		}
	}
	e.Broker.Stop()
	if err := e.Queue.Close(); err != nil {
		log.WithInstance(e.cfg.StairwayName).Warn().Err(err).Msg("queue close error")
	}
	metrics.ClusterIsLeader.Set(0)
	return e.Journal.Close()
}
