package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"

	"trustdesk/internal/dispatch"
	dispatchmetrics "trustdesk/internal/dispatch/metrics"
	"trustdesk/internal/inforequest"
	"trustdesk/internal/intake"
	intakemetrics "trustdesk/internal/intake/metrics"
	"trustdesk/internal/intake/store/bucket"
	"trustdesk/internal/intake/store/flag"
	jwttoken "trustdesk/internal/jwt_token"
	"trustdesk/internal/messages"
	"trustdesk/internal/moderation"
	modhandler "trustdesk/internal/moderation/handler"
	modmetrics "trustdesk/internal/moderation/metrics"
	infostore "trustdesk/internal/moderation/store/inforequest"
	"trustdesk/internal/moderation/store/submission"
	"trustdesk/internal/notify"
	notifymetrics "trustdesk/internal/notify/metrics"
	"trustdesk/internal/platform/config"
	"trustdesk/internal/platform/httpserver"
	platformkafka "trustdesk/internal/platform/kafka"
	platformmetrics "trustdesk/internal/platform/metrics"
	"trustdesk/internal/platform/postgres"
	platformredis "trustdesk/internal/platform/redis"
	"trustdesk/internal/registry"
	registryhandler "trustdesk/internal/registry/handler"
	registrystore "trustdesk/internal/registry/store"
	"trustdesk/internal/session"
	"trustdesk/internal/transport"
	kafkabridge "trustdesk/internal/transport/kafka"
	"trustdesk/internal/transport/webhook"
	"trustdesk/internal/users"
	userstore "trustdesk/internal/users/store"
	"trustdesk/internal/workflow"
	id "trustdesk/pkg/domain"
	audit "trustdesk/pkg/platform/audit"
	"trustdesk/pkg/platform/audit/publishers/security"
	auditkafka "trustdesk/pkg/platform/audit/store/kafka"
	auditmemory "trustdesk/pkg/platform/audit/store/memory"
	auditpostgres "trustdesk/pkg/platform/audit/store/postgres"
	"trustdesk/pkg/platform/audit/worker"
	"trustdesk/pkg/platform/middleware/auth"
	"trustdesk/pkg/platform/retry"
	"trustdesk/pkg/platform/tx"
)

// app is the assembled process. Fields are only read by run.
type app struct {
	router       chi.Router
	dispatcher   *dispatch.Dispatcher
	auditWorker  *worker.Worker
	sweeper      func(ctx context.Context) error
	inboundKind  string
	closeInbound func()
	closers      []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// backends groups the storage chosen from configuration. Every store has an
// in-memory fallback so the service runs with no infrastructure at all.
type backends struct {
	db          *sql.DB
	redis       *platformredis.Client
	producer    *kgo.Client
	submissions moderation.SubmissionStore
	infos       moderation.InfoRequestStore
	registry    registry.Store
	runner      tx.Runner
	users       users.Store
	sessions    workflow.SessionStore
	memSessions *session.InMemoryStore
	buckets     intake.BucketStore
	flags       intake.FlagStore
	auditStore  audit.Store
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	catalog, err := messages.Load(cfg.Workflow.MessagesFile)
	if err != nil {
		return nil, err
	}

	b, err := openBackends(ctx, cfg, log, a)
	if err != nil {
		return nil, err
	}

	reviewers := make([]id.SubmitterID, 0, len(cfg.Moderation.Reviewers))
	for _, r := range cfg.Moderation.Reviewers {
		reviewers = append(reviewers, id.SubmitterID(r))
	}

	publisher := security.NewPublisher(
		security.WithBufferSize(cfg.Audit.BufferSize),
		security.WithLogger(log),
	)
	a.auditWorker = worker.NewWorker(b.auditStore, publisher,
		worker.WithLogger(log),
		worker.WithBatchSize(cfg.Audit.BatchSize),
		worker.WithFlushInterval(cfg.Audit.FlushInterval),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := platformmetrics.New(reg, func() float64 { return float64(publisher.Dropped()) })

	receiver, sender, err := openTransport(ctx, cfg, log, b, a)
	if err != nil {
		return nil, err
	}

	persistPolicy := retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}
	broadcastPolicy := persistPolicy
	broadcastPolicy.MaxAttempts = cfg.Retry.BroadcastAttempts

	broadcaster, err := notify.New(sender, reviewers,
		notify.WithLogger(log),
		notify.WithCatalog(catalog),
		notify.WithRetryPolicy(broadcastPolicy),
		notify.WithMetrics(notifymetrics.New(reg)),
		notify.WithFanOut(cfg.Retry.BroadcastParallel),
		notify.WithBreakerThreshold(cfg.Retry.BroadcastFailures),
		notify.WithRecoveryThreshold(cfg.Retry.BroadcastRecovery),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}

	directory, err := users.New(b.users,
		users.WithLogger(log),
		users.WithRetryPolicy(persistPolicy),
	)
	if err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}

	modMetrics := modmetrics.New(reg)
	queue, err := moderation.New(b.submissions, b.infos, b.registry, b.runner, broadcaster, reviewers,
		moderation.WithLogger(log),
		moderation.WithAuditPublisher(publisher),
		moderation.WithMetrics(modMetrics),
		moderation.WithRetryPolicy(persistPolicy),
		moderation.WithCatalog(catalog),
		moderation.WithUserCounter(directory),
	)
	if err != nil {
		return nil, fmt.Errorf("moderation: %w", err)
	}

	registryService, err := registry.New(b.registry,
		registry.WithLogger(log),
		registry.WithRetryPolicy(persistPolicy),
		registry.WithPageSize(cfg.Moderation.PageSize),
	)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	browser, err := registry.NewBrowser(registryService, sender, catalog)
	if err != nil {
		return nil, fmt.Errorf("registry browser: %w", err)
	}

	engine, err := workflow.New(b.sessions, queue, registryService, sender,
		workflow.WithLogger(log),
		workflow.WithCatalog(catalog),
		workflow.WithRetryPolicy(persistPolicy),
		workflow.WithConfirmKeyword(cfg.Workflow.ConfirmKeyword),
		workflow.WithCancelKeywords(cfg.Workflow.CancelKeywords...),
	)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}

	protocol, err := inforequest.New(queue, b.sessions, sender, engine,
		inforequest.WithLogger(log),
		inforequest.WithCatalog(catalog),
		inforequest.WithTTL(cfg.Moderation.InfoRequestTTL),
		inforequest.WithAuditPublisher(publisher),
		inforequest.WithMetrics(modMetrics),
		inforequest.WithRetryPolicy(persistPolicy),
	)
	if err != nil {
		return nil, fmt.Errorf("info requests: %w", err)
	}

	guard, err := intake.New(b.buckets, b.flags,
		intake.WithLogger(log),
		intake.WithAuditPublisher(publisher),
		intake.WithMetrics(intakemetrics.New(reg)),
		intake.WithLimits(cfg.Intake.MaxTurns, cfg.Intake.Window),
		intake.WithMaxTextLength(cfg.Intake.MaxTextLength),
		intake.WithControlKeywords(cfg.Intake.ControlKeywords),
		intake.WithContentExemptions(reviewers...),
	)
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}

	dispatchMetrics := dispatchmetrics.New(reg)
	pipeline, err := dispatch.NewPipeline(dispatch.Deps{
		Guard:      guard,
		Sessions:   b.sessions,
		Workflow:   engine,
		Info:       protocol,
		Moderation: queue,
		Cards:      broadcaster,
		Registry:   browser,
		Sender:     sender,
		Users:      directory,
	},
		dispatch.WithLogger(log),
		dispatch.WithCatalog(catalog),
		dispatch.WithMetrics(dispatchMetrics),
		dispatch.WithRetryPolicy(persistPolicy),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	a.dispatcher, err = dispatch.NewDispatcher(receiver, pipeline, dispatch.DispatcherConfig{
		Shards: cfg.Dispatch.Shards,
		Buffer: cfg.Dispatch.QueueSize,
	}, log, dispatchMetrics)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	if b.memSessions != nil {
		sessions := b.memSessions
		a.sweeper = func(ctx context.Context) error {
			return sessions.RunSweeper(ctx, cfg.Session.SweepInterval, log)
		}
	}

	router := httpserver.NewRouter(reg, b.health, httpMetrics.Middleware)
	if in, isWebhook := receiver.(*webhook.Inbound); isWebhook {
		in.Register(router)
	}
	registryhandler.New(registryService, log).Register(router)
	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireReviewer(jwttoken.NewJWTServiceAdapter(jwtService), log))
		modhandler.New(queue, guard, log).Register(r)
	})
	a.router = router

	ok = true
	return a, nil
}

func openBackends(ctx context.Context, cfg config.Config, log *slog.Logger, a *app) (*backends, error) {
	b := &backends{}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		b.db = db
		b.submissions = submission.NewPostgres(db)
		b.infos = infostore.NewPostgres(db)
		b.registry = registrystore.NewPostgres(db)
		b.runner = tx.NewPostgres(db)
		b.users = userstore.NewPostgres(db)
		b.auditStore = auditpostgres.New(db)
		log.Info("using postgres for submissions and registry")
	} else {
		b.submissions = submission.NewInMemory()
		b.infos = infostore.NewInMemory()
		b.registry = registrystore.NewInMemory()
		b.runner = tx.NewSharded()
		b.users = userstore.NewInMemory()
		log.Warn("DATABASE_URL not set, submissions are kept in memory")
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		b.redis = rc
		b.sessions = session.NewRedis(rc.Client, cfg.Session.IdleTTL)
		b.buckets = bucket.NewRedis(rc.Client)
		b.flags = flag.NewRedis(rc.Client)
		log.Info("using redis for sessions and intake limits")
	} else {
		b.memSessions = session.NewInMemory(cfg.Session.IdleTTL)
		b.sessions = b.memSessions
		b.buckets = bucket.New()
		b.flags = flag.New()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := platformkafka.NewProducer(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, producer.Close)
		if err := platformkafka.EnsureTopics(ctx, producer, cfg.Kafka); err != nil {
			return nil, err
		}
		b.producer = producer
		if b.auditStore == nil {
			b.auditStore = auditkafka.New(producer, cfg.Kafka.AuditTopic)
		}
	}
	if b.auditStore == nil {
		b.auditStore = auditmemory.NewInMemoryStore()
	}
	return b, nil
}

// openTransport picks the Kafka bridge when brokers are configured and the
// HTTP webhook pair otherwise.
func openTransport(_ context.Context, cfg config.Config, log *slog.Logger, b *backends, a *app) (transport.Receiver, transport.Sender, error) {
	if b.producer != nil {
		consumer, err := platformkafka.NewConsumer(cfg.Kafka)
		if err != nil {
			return nil, nil, err
		}
		receiver, err := kafkabridge.NewReceiver(consumer, kafkabridge.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		sender, err := kafkabridge.NewSender(b.producer, cfg.Kafka.OutboundTopic)
		if err != nil {
			return nil, nil, err
		}
		a.inboundKind = "kafka"
		// Closing the consumer ends PollFetches with a closed-client fetch,
		// which the receiver reports as transport.ErrClosed.
		a.closeInbound = consumer.Close
		return receiver, sender, nil
	}

	if cfg.Webhook.OutboundURL == "" {
		return nil, nil, errors.New("either KAFKA_BROKERS or WEBHOOK_OUTBOUND_URL must be set")
	}
	sender, err := webhook.NewOutbound(cfg.Webhook.OutboundURL, cfg.Webhook.Secret, cfg.Webhook.Timeout)
	if err != nil {
		return nil, nil, err
	}
	in := webhook.NewInbound(cfg.Dispatch.QueueSize,
		webhook.WithLogger(log),
		webhook.WithSecret(cfg.Webhook.Secret),
	)
	a.inboundKind = "webhook"
	a.closeInbound = in.Close
	return in, sender, nil
}

// health reports the reachability of the configured backends.
func (b *backends) health(r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if b.db != nil {
		if err := b.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if b.redis != nil {
		if err := b.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
