// Package parlor wires the scheduling core into a runnable deployment:
// configuration in, scheduler + history store + observability out. Embedders
// that want finer control use internal packages through the scheduler's
// options instead.
package parlor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/parlor-dev/parlor/internal/events"
	"github.com/parlor-dev/parlor/internal/observability"
	"github.com/parlor-dev/parlor/internal/scheduler"
	"github.com/parlor-dev/parlor/pkg/config"
	"github.com/parlor-dev/parlor/pkg/history"
	historyfs "github.com/parlor-dev/parlor/pkg/history/firestore"
	pkgobs "github.com/parlor-dev/parlor/pkg/observability"
)

// Version is the release version reported by the CLI and on /health.
const Version = "0.3.0"

// Parlor owns one scheduler deployment and its collaborators.
type Parlor struct {
	cfg    *config.Config
	sched  *scheduler.Scheduler
	bus    *events.Bus
	store  history.Store
	server *pkgobs.Server
}

// New assembles a Parlor from configuration: history backend, event bus,
// scheduler and participants. Nothing starts running until Start.
func New(ctx context.Context, cfg *config.Config) (*Parlor, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	store, err := buildStore(ctx, cfg.History)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}

	bus := events.NewBus()
	sched, err := scheduler.New(schedulerConfig(cfg.Scheduler),
		scheduler.WithBus(bus),
		scheduler.WithHistory(store),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if err := sched.AddParticipants(cfg.Participants); err != nil {
		// Bad definitions skip those participants only; an empty roster is
		// the one fatal outcome.
		log.Printf("[Parlor] some participants were skipped: %v", err)
	}
	if len(sched.Participants()) == 0 {
		_ = store.Close()
		return nil, errors.New("no usable participants configured")
	}

	p := &Parlor{cfg: cfg, sched: sched, bus: bus, store: store}
	if port := cfg.Observability.MetricsPort; port > 0 {
		p.server = pkgobs.NewServer(port)
	}
	return p, nil
}

// Start initializes tracing, begins serving observability endpoints and
// starts the scheduler. ctx outlives Start; it governs generation calls
// until Shutdown.
func (p *Parlor) Start(ctx context.Context) error {
	if exp := p.cfg.Observability.TracingExporter; exp != "" && exp != "none" {
		err := observability.Init(observability.Config{
			Enabled:      true,
			ExporterType: exp,
			OTLPEndpoint: p.cfg.Observability.OTLPEndpoint,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
	}

	if p.server != nil {
		pkgobs.InitMetrics()
		pkgobs.SetVersion(Version)
		checker := pkgobs.InitHealthChecker()
		checker.RegisterCheck(pkgobs.SchedulerCheck(p.sched.Running))
		checker.RegisterCheck(pkgobs.HistoryCheck(p.store.Ping))
		go func() {
			if err := p.server.Start(); err != nil {
				log.Printf("[Parlor] observability server: %v", err)
			}
		}()
	}

	return p.sched.Start(ctx)
}

// Shutdown stops the scheduler, the observability server, tracing and the
// history store. In-flight generations are not aborted; their results are
// still recorded.
func (p *Parlor) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.sched.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability server: %w", err))
		}
	}
	if err := observability.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	p.bus.Close()
	if err := p.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("history store: %w", err))
	}
	return errors.Join(errs...)
}

// Post submits a user message into the configured default room.
func (p *Parlor) Post(ctx context.Context, sender, content string) error {
	return p.sched.PostUserMessage(ctx, p.cfg.Room, sender, content)
}

// PostTo submits a user message into a specific room.
func (p *Parlor) PostTo(ctx context.Context, roomID, sender, content string) error {
	return p.sched.PostUserMessage(ctx, roomID, sender, content)
}

// Events subscribes to the deployment's lifecycle events. The returned
// cancel func must be called when the consumer is done.
func (p *Parlor) Events(buffer int) (<-chan events.Event, func()) {
	return p.bus.Subscribe(buffer)
}

// Scheduler exposes the underlying scheduler for status queries and
// administrative control (topics, sleep/wake, room limits).
func (p *Parlor) Scheduler() *scheduler.Scheduler {
	return p.sched
}

// Room is the default room messages post into.
func (p *Parlor) Room() string {
	return p.cfg.Room
}

// schedulerConfig overlays the file's milliseconds knobs onto the scheduler
// defaults. Zero fields keep their defaults.
func schedulerConfig(sc config.SchedulerConfig) scheduler.Config {
	cfg := scheduler.DefaultConfig()
	if sc.MaxMessages > 0 {
		cfg.MaxMessages = sc.MaxMessages
	}
	if sc.MaxAIMessages > 0 {
		cfg.MaxAIMessages = sc.MaxAIMessages
	}
	if sc.MaxConcurrentResponses > 0 {
		cfg.MaxConcurrentResponses = sc.MaxConcurrentResponses
	}
	if sc.MinResponders > 0 {
		cfg.MinResponders = sc.MinResponders
	}
	if sc.MaxResponders > 0 {
		cfg.MaxResponders = sc.MaxResponders
	}
	if sc.InitConcurrency > 0 {
		cfg.InitConcurrency = sc.InitConcurrency
	}
	if sc.InstantReplyMin > 0 {
		cfg.InstantReplyMin = config.Millis(sc.InstantReplyMin)
	}
	if sc.InstantReplyMax > 0 {
		cfg.InstantReplyMax = config.Millis(sc.InstantReplyMax)
	}
	if sc.MinUserResponseDelay > 0 {
		cfg.MinUserResponseDelay = config.Millis(sc.MinUserResponseDelay)
	}
	if sc.MaxUserResponseDelay > 0 {
		cfg.MaxUserResponseDelay = config.Millis(sc.MaxUserResponseDelay)
	}
	if sc.MinBackgroundDelay > 0 {
		cfg.MinBackgroundDelay = config.Millis(sc.MinBackgroundDelay)
	}
	if sc.MaxBackgroundDelay > 0 {
		cfg.MaxBackgroundDelay = config.Millis(sc.MaxBackgroundDelay)
	}
	if sc.MinDelayBetweenAI > 0 {
		cfg.MinDelayBetweenAI = config.Millis(sc.MinDelayBetweenAI)
	}
	if sc.MaxDelayBetweenAI > 0 {
		cfg.MaxDelayBetweenAI = config.Millis(sc.MaxDelayBetweenAI)
	}
	if sc.BackgroundCheckMin > 0 {
		cfg.BackgroundCheckMin = config.Millis(sc.BackgroundCheckMin)
	}
	if sc.BackgroundCheckMax > 0 {
		cfg.BackgroundCheckMax = config.Millis(sc.BackgroundCheckMax)
	}
	if sc.SilenceWindow > 0 {
		cfg.SilenceWindow = config.Millis(sc.SilenceWindow)
	}
	if sc.ResponderCooldown > 0 {
		cfg.ResponderCooldown = config.Millis(sc.ResponderCooldown)
	}
	if sc.CleanupInterval > 0 {
		cfg.CleanupInterval = config.Millis(sc.CleanupInterval)
	}
	if sc.CleanupMaxAge > 0 {
		cfg.CleanupMaxAge = config.Millis(sc.CleanupMaxAge)
	}
	return cfg
}

// buildStore selects the history backend from configuration.
func buildStore(ctx context.Context, hc config.HistoryConfig) (history.Store, error) {
	switch hc.Backend {
	case "", "memory":
		return history.NewMemoryStore(hc.MaxEntries), nil

	case "redis":
		return history.NewRedisStore(history.RedisConfig{
			Addr:       hc.Redis.Addr,
			Password:   hc.Redis.Password,
			DB:         hc.Redis.DB,
			Prefix:     hc.Redis.Prefix,
			MaxEntries: hc.MaxEntries,
			TTL:        config.Millis(hc.TTL),
			PoolSize:   hc.Redis.PoolSize,
		})

	case "firestore":
		return historyfs.New(ctx, historyfs.Config{
			ProjectID:        hc.Firestore.ProjectID,
			CredentialsFile:  hc.Firestore.CredentialsFile,
			CollectionPrefix: hc.Firestore.CollectionPrefix,
			TTL:              config.Millis(hc.TTL),
		})

	default:
		return nil, fmt.Errorf("unknown history backend %q", hc.Backend)
	}
}
