package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	liststr "trustdesk/pkg/platform/strings"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Server     Server
	Intake     Intake
	Session    Session
	Workflow   Workflow
	Moderation Moderation
	Retry      Retry
	Dispatch   Dispatch
	Postgres   PostgresConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Webhook    WebhookConfig
	Audit      AuditConfig
	LogLevel   string
	LogFormat  string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	JWTIssuer       string
	JWTAudience     string
	ShutdownTimeout time.Duration
}

// Intake bounds inbound turns per submitter.
type Intake struct {
	MaxTurns        int
	Window          time.Duration
	MaxTextLength   int
	ControlKeywords []string
}

// Session bounds in-progress conversations.
type Session struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// Workflow holds the keywords users type to drive a form.
type Workflow struct {
	ConfirmKeyword string
	CancelKeywords []string
	MessagesFile   string
}

// Moderation holds the reviewer set and info request policy.
type Moderation struct {
	Reviewers      []int64
	InfoRequestTTL time.Duration
	PageSize       int
}

// Retry bounds persistence retries and reviewer broadcast retries.
type Retry struct {
	MaxAttempts       int
	InitialInterval   time.Duration
	MaxInterval       time.Duration
	BroadcastAttempts int
	BroadcastFailures int
	BroadcastRecovery int
	BroadcastParallel int
}

// Dispatch sizes the per-submitter worker shards.
type Dispatch struct {
	Shards    int
	QueueSize int
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	InboundTopic  string
	OutboundTopic string
	AuditTopic    string
	ConsumerGroup string
	Partitions    int32
	Replication   int16
}

type WebhookConfig struct {
	Secret      string
	OutboundURL string
	Timeout     time.Duration
}

type AuditConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []string
	e := envReader{errs: &errs}

	cfg := Config{
		Server: Server{
			Addr:            e.str("TRUSTDESK_ADDR", ":8080"),
			JWTSigningKey:   e.str("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:       e.str("JWT_ISSUER", "trustdesk"),
			JWTAudience:     e.str("JWT_AUDIENCE", "trustdesk-reviewers"),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Intake: Intake{
			MaxTurns:        e.int("INTAKE_MAX_TURNS", 30),
			Window:          e.duration("INTAKE_WINDOW", 60*time.Second),
			MaxTextLength:   e.int("INTAKE_MAX_TEXT_LENGTH", 1000),
			ControlKeywords: e.list("INTAKE_CONTROL_KEYWORDS", []string{"/admin", "/sudo", "/eval", "<script"}),
		},
		Session: Session{
			IdleTTL:       e.duration("SESSION_IDLE_TTL", 30*time.Minute),
			SweepInterval: e.duration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Workflow: Workflow{
			ConfirmKeyword: e.str("CONFIRM_KEYWORD", "Подтверждаю"),
			CancelKeywords: e.list("CANCEL_KEYWORDS", []string{"❌ Отменить", "/cancel"}),
			MessagesFile:   e.str("MESSAGES_FILE", ""),
		},
		Moderation: Moderation{
			Reviewers:      e.int64List("TRUSTDESK_REVIEWERS"),
			InfoRequestTTL: e.duration("INFO_REQUEST_TTL", 0),
			PageSize:       e.int("REGISTRY_PAGE_SIZE", 5),
		},
		Retry: Retry{
			MaxAttempts:       e.int("RETRY_MAX_ATTEMPTS", 3),
			InitialInterval:   e.duration("RETRY_INITIAL_INTERVAL", 50*time.Millisecond),
			MaxInterval:       e.duration("RETRY_MAX_INTERVAL", 500*time.Millisecond),
			BroadcastAttempts: e.int("BROADCAST_ATTEMPTS", 3),
			BroadcastFailures: e.int("BROADCAST_BREAKER_FAILURES", 5),
			BroadcastRecovery: e.int("BROADCAST_BREAKER_RECOVERY", 3),
			BroadcastParallel: e.int("BROADCAST_PARALLELISM", 8),
		},
		Dispatch: Dispatch{
			Shards:    e.int("DISPATCH_SHARDS", 16),
			QueueSize: e.int("DISPATCH_QUEUE_SIZE", 64),
		},
		Postgres: PostgresConfig{
			URL:             e.str("DATABASE_URL", ""),
			MaxOpenConns:    e.int("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    e.int("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       e.list("KAFKA_BROKERS", nil),
			InboundTopic:  e.str("KAFKA_INBOUND_TOPIC", "trustdesk.turns"),
			OutboundTopic: e.str("KAFKA_OUTBOUND_TOPIC", "trustdesk.outbound"),
			AuditTopic:    e.str("KAFKA_AUDIT_TOPIC", "trustdesk.audit"),
			ConsumerGroup: e.str("KAFKA_CONSUMER_GROUP", "trustdesk"),
			Partitions:    int32(e.int("KAFKA_TOPIC_PARTITIONS", 6)),
			Replication:   int16(e.int("KAFKA_TOPIC_REPLICATION", 1)),
		},
		Webhook: WebhookConfig{
			Secret:      e.str("WEBHOOK_SECRET", ""),
			OutboundURL: e.str("WEBHOOK_OUTBOUND_URL", ""),
			Timeout:     e.duration("WEBHOOK_TIMEOUT", 5*time.Second),
		},
		Audit: AuditConfig{
			BufferSize:    e.int("AUDIT_BUFFER_SIZE", 10000),
			BatchSize:     e.int("AUDIT_BATCH_SIZE", 100),
			FlushInterval: e.duration("AUDIT_FLUSH_INTERVAL", time.Second),
		},
		LogLevel:  e.str("LOG_LEVEL", "info"),
		LogFormat: e.str("LOG_FORMAT", "json"),
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	switch {
	case len(c.Moderation.Reviewers) == 0:
		return fmt.Errorf("invalid configuration: TRUSTDESK_REVIEWERS must list at least one reviewer id")
	case c.Intake.MaxTurns <= 0:
		return fmt.Errorf("invalid configuration: INTAKE_MAX_TURNS must be positive")
	case c.Intake.Window <= 0:
		return fmt.Errorf("invalid configuration: INTAKE_WINDOW must be positive")
	case c.Intake.MaxTextLength <= 0:
		return fmt.Errorf("invalid configuration: INTAKE_MAX_TEXT_LENGTH must be positive")
	case strings.TrimSpace(c.Workflow.ConfirmKeyword) == "":
		return fmt.Errorf("invalid configuration: CONFIRM_KEYWORD cannot be empty")
	case c.Dispatch.Shards <= 0:
		return fmt.Errorf("invalid configuration: DISPATCH_SHARDS must be positive")
	case c.Moderation.PageSize <= 0:
		return fmt.Errorf("invalid configuration: REGISTRY_PAGE_SIZE must be positive")
	case len(c.Kafka.Brokers) == 0 && c.Webhook.Secret == "":
		// the webhook is the only inbound path then, and turns carry the
		// submitter id reviewers are authorized by
		return fmt.Errorf("invalid configuration: WEBHOOK_SECRET is required when KAFKA_BROKERS is not set")
	}
	return nil
}

type envReader struct {
	errs *[]string
}

func (e envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e envReader) int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*e.errs = append(*e.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return n
}

func (e envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		*e.errs = append(*e.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}

func (e envReader) list(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return liststr.SplitList(v)
}

func (e envReader) int64List(key string) []int64 {
	var out []int64
	for _, part := range e.list(key, nil) {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n <= 0 {
			*e.errs = append(*e.errs, fmt.Sprintf("%s: invalid id %q", key, part))
			continue
		}
		out = append(out, n)
	}
	return out
}
