// Package oracle assembles the exchange oracle: the signed webhook inbox and
// outbox, the escrow lifecycle engine, the periodic scheduler, the go-command
// facade and the HTTP router, all bound to one set of stores.
package oracle

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-oracle/adapters/gojob"
	"github.com/goliatone/go-oracle/adapters/gologger"
	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/escrow"
	"github.com/goliatone/go-oracle/events"
	"github.com/goliatone/go-oracle/identity"
	"github.com/goliatone/go-oracle/inbound"
	"github.com/goliatone/go-oracle/lifecycle"
	"github.com/goliatone/go-oracle/metrics"
	"github.com/goliatone/go-oracle/scheduler"
	"github.com/goliatone/go-oracle/signing"
	"github.com/goliatone/go-oracle/storage"
	"github.com/goliatone/go-oracle/transport"
	"github.com/goliatone/go-oracle/webhooks"
)

type Config = core.Config

type Webhook = core.Webhook

type Project = core.Project

type Assignment = core.Assignment

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig layers ORACLE_* environment variables and runtime over the
// defaults.
func LoadConfig(ctx context.Context, runtime Config) (Config, error) {
	return core.ResolveConfig(
		ctx,
		core.NewCfgxConfigProvider(core.NewEnvRawConfigLoader()),
		core.GoOptionsResolver{},
		runtime,
	)
}

// Dependencies are built by the caller. Stores and CVAT are required; the
// rest fall back to defaults derived from Config. HTTP serves the escrow
// gateway and retries transient failures. WebhookHTTP posts outbound webhooks
// and should not retry, since the outbox row's attempts own redelivery.
type Dependencies struct {
	Stores         core.Stores
	CVAT           core.CVATClient
	Escrows        core.EscrowReader
	Storage        core.ResultsStorage
	Identity       core.SigningIdentity
	Roles          core.RoleResolver
	URLs           core.URLResolver
	HTTP           *transport.RESTAdapter
	WebhookHTTP    *transport.RESTAdapter
	Cache          repositorycache.CacheService
	Logger         core.Logger
	LoggerProvider core.LoggerProvider
	Metrics        core.MetricsRecorder
	Clock          func() time.Time
}

type Oracle struct {
	cfg        Config
	logs       gologger.Bridge
	observer   *core.Observer
	prometheus *metrics.PrometheusRecorder

	queue         *webhooks.Queue
	engine        *lifecycle.Engine
	scheduler     *scheduler.Scheduler
	jobs          *gojob.MemoryQueue
	queueRegistry *jobqueuecommand.Registry
	facade        *Facade
	router        *inbound.Router

	mu      sync.Mutex
	cancel  context.CancelFunc
	working sync.WaitGroup
}

func New(cfg Config, deps Dependencies) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Stores == nil {
		return nil, fmt.Errorf("oracle: stores are required")
	}
	if deps.CVAT == nil {
		return nil, fmt.Errorf("oracle: cvat client is required")
	}

	o := &Oracle{cfg: cfg}
	o.logs = gologger.Resolve(cfg.ServiceName, deps.LoggerProvider, deps.Logger)
	recorder := deps.Metrics
	if recorder == nil {
		o.prometheus = metrics.NewPrometheusRecorder(nil)
		recorder = o.prometheus
	}
	o.observer = core.NewObserver(o.logs.Named(cfg.ServiceName), recorder)

	rest := deps.HTTP
	if rest == nil {
		rest = transport.NewRESTAdapter(transport.NewHTTPClient(transport.ClientConfig{
			RetryMax: 2,
			Timeout:  cfg.Webhook.RequestTimeout,
			Logger:   o.logs.Named("transport"),
		}))
	}
	webhookHTTP := deps.WebhookHTTP
	if webhookHTTP == nil {
		webhookHTTP = transport.NewRESTAdapter(transport.NewHTTPClient(transport.ClientConfig{
			RetryMax: 0,
			Timeout:  cfg.Webhook.RequestTimeout,
			Logger:   o.logs.Named("transport"),
		}))
	}

	roles, urls, err := resolvers(cfg.Chain, deps)
	if err != nil {
		return nil, err
	}
	signer := deps.Identity
	if signer == nil && strings.TrimSpace(cfg.Chain.SigningKey) != "" {
		key, err := signing.NewKeyIdentity(cfg.Chain.SigningKey)
		if err != nil {
			return nil, err
		}
		signer = key
	}

	registry := events.NewRegistry()
	codec := signing.NewCodec()
	o.queue = webhooks.NewQueue(deps.Stores, registry, webhooks.NewSignatureVerifier(codec, roles))
	o.queue.Codec = codec
	o.queue.Identity = signer
	o.queue.Client = webhookHTTP
	o.queue.Observer = o.observer
	o.queue.RetryPolicy = webhooks.FixedDelayPolicy{Delay: cfg.Webhook.RetryDelay}
	o.queue.MaxAttempts = cfg.Webhook.MaxAttempts
	o.queue.SignatureHeader = cfg.Webhook.SignatureHeader
	o.queue.RequestTimeout = cfg.Webhook.RequestTimeout

	escrows := deps.Escrows
	if escrows == nil {
		if strings.TrimSpace(cfg.Chain.EscrowGatewayURL) == "" {
			return nil, fmt.Errorf("oracle: an escrow reader or chain.escrow_gateway_url is required")
		}
		escrows = escrow.NewGatewayReader(cfg.Chain.EscrowGatewayURL, rest)
	}
	results := deps.Storage
	if results == nil {
		o.observer.Warn(context.Background(), "oracle results storage not configured, keeping results in memory", nil)
		results = storage.NewMemoryStorage()
	}
	o.engine, err = lifecycle.NewEngine(deps.Stores, o.queue, registry, deps.CVAT, escrows, results,
		lifecycle.WithObserver(o.observer),
		lifecycle.WithCVATConfig(cfg.CVAT),
		lifecycle.WithClock(deps.Clock),
	)
	if err != nil {
		return nil, err
	}

	schedulerOpts := []scheduler.Option{scheduler.WithObserver(o.observer)}
	if cfg.Cron.Queued {
		o.jobs = gojob.NewMemoryQueue(0, o.logs.JobLogger)
		o.queueRegistry = jobqueuecommand.NewRegistry()
		schedulerOpts = append(schedulerOpts, scheduler.WithQueue(gojob.NewRunQueue(o.jobs)))
	}
	o.scheduler = scheduler.New(schedulerOpts...)
	if err := o.scheduler.RegisterAll(scheduler.OracleTasks(cfg.Cron, o.queue, o.engine, urls)); err != nil {
		return nil, err
	}

	var facadeOpts []FacadeOption
	if o.queueRegistry != nil {
		facadeOpts = append(facadeOpts, WithQueueRegistry(o.queueRegistry))
	}
	o.facade, err = NewFacade(FacadeDependencies{
		Webhooks:    o.queue,
		Assignments: o.engine,
		Tasks:       o.scheduler,
		Stores:      deps.Stores,
	}, facadeOpts...)
	if err != nil {
		return nil, err
	}

	routerOpts := []inbound.Option{
		inbound.WithChainConfig(cfg.Chain),
		inbound.WithSignatureHeader(cfg.Webhook.SignatureHeader),
		inbound.WithCVATSecret(cfg.CVAT.WebhookSecret),
		inbound.WithObserver(o.observer),
	}
	if o.prometheus != nil {
		routerOpts = append(routerOpts, inbound.WithMetricsHandler(o.prometheus.Handler()))
	}
	o.router = inbound.NewRouter(o.facade, routerOpts...)
	return o, nil
}

// resolvers builds the config directory and fronts it, or the supplied
// resolvers, with a cache.
func resolvers(chain core.ChainConfig, deps Dependencies) (core.RoleResolver, core.URLResolver, error) {
	roles, urls := deps.Roles, deps.URLs
	if roles == nil || urls == nil {
		directory, err := identity.NewDirectory(chain)
		if err != nil {
			return nil, nil, err
		}
		if roles == nil {
			roles = directory
		}
		if urls == nil {
			urls = directory
		}
	}
	cacheService := deps.Cache
	if cacheService == nil {
		created, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("oracle: resolver cache: %w", err)
		}
		cacheService = created
	}
	cached, err := identity.NewCachedResolver(roles, urls, cacheService)
	if err != nil {
		return nil, nil, err
	}
	return cached, cached, nil
}

func (o *Oracle) Config() Config { return o.cfg }

func (o *Oracle) Observer() *core.Observer { return o.observer }

func (o *Oracle) Queue() *webhooks.Queue { return o.queue }

func (o *Oracle) Engine() *lifecycle.Engine { return o.engine }

func (o *Oracle) Scheduler() *scheduler.Scheduler { return o.scheduler }

func (o *Oracle) Facade() *Facade { return o.facade }

// QueueRegistry holds the commands mirrored for go-job workers. It is nil
// unless cron.queued is set.
func (o *Oracle) QueueRegistry() *jobqueuecommand.Registry { return o.queueRegistry }

// Metrics is the prometheus recorder, or nil when Dependencies.Metrics was
// supplied.
func (o *Oracle) Metrics() *metrics.PrometheusRecorder { return o.prometheus }

func (o *Oracle) Handler() http.Handler { return o.router.Handler() }

// Start runs the scheduler and, in queued mode, the task worker.
func (o *Oracle) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return fmt.Errorf("oracle: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	if err := o.scheduler.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if o.jobs != nil {
		source := gojob.NewRunSource(o.jobs, gojob.RetryPolicy{
			MaxAttempts:     o.cfg.Webhook.MaxAttempts,
			MaxDelay:        o.cfg.Webhook.RetryDelay,
			DeadLetterOnMax: true,
		})
		o.working.Add(1)
		go func() {
			defer o.working.Done()
			_ = o.scheduler.Work(runCtx, source)
		}()
	}
	o.cancel = cancel
	o.observer.Info(ctx, "oracle started", map[string]any{"tasks": len(o.scheduler.Tasks()), "queued": o.cfg.Cron.Queued})
	return nil
}

// Stop halts the scheduler and waits for the worker.
func (o *Oracle) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	o.scheduler.Stop()
	cancel()
	o.working.Wait()
}

// Close stops background work and releases the facade subscriptions.
func (o *Oracle) Close() {
	o.Stop()
	o.facade.Close()
}
