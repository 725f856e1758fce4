package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pjcompanyofficial/PJ-ECS/audit"
	"github.com/pjcompanyofficial/PJ-ECS/deletion"
	"github.com/pjcompanyofficial/PJ-ECS/document"
	"github.com/pjcompanyofficial/PJ-ECS/gallery"
	"github.com/pjcompanyofficial/PJ-ECS/logging"
	"github.com/pjcompanyofficial/PJ-ECS/mail"
	"github.com/pjcompanyofficial/PJ-ECS/rate"
	"github.com/pjcompanyofficial/PJ-ECS/redis"
	"github.com/pjcompanyofficial/PJ-ECS/watermark"

	goredis "github.com/redis/go-redis/v9"
)

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`
	LogLevel     string       `json:"log_level,omitempty"`
	LogFormat    string       `json:"log_format,omitempty"`

	SessionSecret      string `json:"session_secret,omitempty"`
	SessionTtlMinutes  int    `json:"session_ttl_minutes,omitempty"`
	SessionIdleMinutes int    `json:"session_idle_minutes,omitempty"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`

	Audit        AuditConfig        `json:"audit"`
	Mail         MailConfig         `json:"mail"`
	Deletion     DeletionConfig     `json:"deletion"`
	Verification VerificationConfig `json:"verification"`

	Employees []document.ReferenceRecord `json:"employees,omitempty"`
}

type AuditConfig struct {
	Type string `json:"type"` // memory or postgres
	Dsn  string `json:"dsn,omitempty"`
}

type MailConfig struct {
	Type string          `json:"type"` // smtp or log
	Smtp mail.SMTPConfig `json:"smtp,omitempty"`
}

type DeletionConfig struct {
	PasswordHash          string              `json:"password_hash"`
	Reasons               []string            `json:"reasons,omitempty"`
	Questions             []deletion.Question `json:"questions"`
	OtpTtlSeconds         int                 `json:"otp_ttl_seconds,omitempty"`
	ResendCooldownSeconds int                 `json:"resend_cooldown_seconds,omitempty"`
	DurationSeconds       int                 `json:"duration_seconds,omitempty"`
}

type VerificationConfig struct {
	Type           string  `json:"type"` // local or remote
	RemoteUrl      string  `json:"remote_url,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
	MaxDistance    int     `json:"max_distance,omitempty"`
	BlankTolerance float64 `json:"blank_tolerance,omitempty"`
	ResultHoldMs   int     `json:"result_hold_ms,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	envPath := flag.String("env", ".env", "Optional .env file with secret overrides")
	flag.Parse()

	if *configPath == "" {
		slog.Error("please provide a config path using the --config flag")
		os.Exit(1)
	}

	if err := godotenv.Load(*envPath); err != nil {
		slog.Info("No .env file found, relying on system env vars", "path", *envPath)
	}

	config, err := readConfigFile(*configPath)
	if err != nil {
		slog.Error("failed to read config file", "error", err)
		os.Exit(1)
	}
	applyEnvOverrides(&config)

	logging.InitLogger(config.LogLevel, config.LogFormat)
	slog.Info("using config", "path", *configPath)
	slog.Info("hosting on", "host", config.ServerConfig.Host, "port", config.ServerConfig.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverState, cleanup, err := createServerState(ctx, &config)
	if err != nil {
		slog.Error("failed to set up server", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	server, err := NewServer(serverState, config.ServerConfig)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	idle := time.Duration(config.SessionIdleMinutes) * time.Minute
	if idle <= 0 {
		idle = 15 * time.Minute
	}
	go runSessionSweeper(ctx, serverState.sessions, idle)

	go func() {
		<-ctx.Done()
		serverState.sessions.CloseAll()
		_ = server.Stop()
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("failed to listen and serve", "error", err)
		os.Exit(1)
	}
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	return config, nil
}

// applyEnvOverrides lets secrets live outside the config file.
func applyEnvOverrides(config *Config) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"PJ_SESSION_SECRET", &config.SessionSecret},
		{"PJ_SMTP_PASSWORD", &config.Mail.Smtp.Password},
		{"PJ_REDIS_PASSWORD", &config.RedisConfig.Password},
		{"PJ_REDIS_PASSWORD", &config.RedisSentinelConfig.Password},
		{"PJ_MASTER_PASSWORD_HASH", &config.Deletion.PasswordHash},
		{"PJ_AUDIT_DSN", &config.Audit.Dsn},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.target = v
		}
	}
}

func createServerState(ctx context.Context, config *Config) (*ServerState, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deletionConfig, err := config.Deletion.toWizardConfig()
	if err != nil {
		return nil, cleanup, err
	}

	ttl := time.Duration(config.SessionTtlMinutes) * time.Minute
	tokenCreator, err := NewHmacSessionTokenCreator([]byte(config.SessionSecret), "pj-ecs", ttl)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to instantiate session token creator: %w", err)
	}

	state := &ServerState{
		tokenCreator:   tokenCreator,
		sessions:       NewSessionRegistry(),
		deletionConfig: deletionConfig,
		verifierConfig: config.Verification.toVerifierConfig(),
	}

	client, namespace, err := createRedisClient(config)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to instantiate storage: %w", err)
	}
	cooldown := time.Duration(config.Deletion.ResendCooldownSeconds) * time.Second
	if client != nil {
		closers = append(closers, func() { _ = client.Close() })
		state.otpStorage = NewRedisOTPStorage(client, namespace)
		state.gallery = gallery.NewRedisStore(client, namespace)
		records := document.NewRedisRecords(client, namespace)
		for _, employee := range config.Employees {
			if err := records.Put(ctx, employee); err != nil {
				return nil, cleanup, fmt.Errorf("failed to seed employee records: %w", err)
			}
		}
		state.records = records
		if cooldown > 0 {
			state.limiter = rate.NewRedisLimiter(client, namespace, cooldown)
		}
	} else {
		state.otpStorage = NewInMemoryOTPStorage()
		state.gallery = gallery.NewMemoryStore()
		state.records = document.NewMemoryRecords(config.Employees)
		if cooldown > 0 {
			state.limiter = rate.NewMemoryLimiter(cooldown)
		}
	}

	auditLog, closeAudit, err := createAuditLog(ctx, config.Audit)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to instantiate audit log: %w", err)
	}
	closers = append(closers, closeAudit)
	state.auditLog = auditLog

	state.mailer, err = createMailer(config.Mail, deletionConfig.OTPTTL)
	if err != nil {
		return nil, cleanup, err
	}

	state.verificationClient, err = createVerificationClient(config.Verification)
	if err != nil {
		return nil, cleanup, err
	}

	return state, cleanup, nil
}

func createRedisClient(config *Config) (goredis.UniversalClient, string, error) {
	if config.StorageType == "redis" {
		slog.Info("Using redis storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, "", err
		}
		return client, config.RedisConfig.Namespace, nil
	}
	if config.StorageType == "redis_sentinel" {
		slog.Info("Using redis sentinel storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, "", err
		}
		return client, config.RedisSentinelConfig.Namespace, nil
	}
	if config.StorageType == "memory" {
		slog.Info("Using in memory storage")
		return nil, "", nil
	}
	return nil, "", fmt.Errorf("%v is not a valid storage type", config.StorageType)
}

func createAuditLog(ctx context.Context, config AuditConfig) (audit.Log, func(), error) {
	switch config.Type {
	case "", "memory":
		slog.Info("Using in memory audit log")
		return audit.NewMemoryLog(), func() {}, nil
	case "postgres":
		slog.Info("Using postgres audit log")
		pgLog, err := audit.NewPostgresLog(ctx, config.Dsn)
		if err != nil {
			return nil, nil, err
		}
		return pgLog, pgLog.Close, nil
	}
	return nil, nil, fmt.Errorf("%v is not a valid audit type", config.Type)
}

func createMailer(config MailConfig, otpTtl time.Duration) (deletion.EmailSender, error) {
	switch config.Type {
	case "smtp":
		if config.Smtp.Host == "" || config.Smtp.From == "" {
			return nil, fmt.Errorf("smtp mail needs a host and a from address")
		}
		slog.Info("Sending codes over smtp", "host", config.Smtp.Host)
		return mail.NewSMTPSender(config.Smtp, "deletion", otpTtl), nil
	case "", "log":
		slog.Warn("Codes are written to the log instead of being mailed")
		return mail.LogSender{}, nil
	}
	return nil, fmt.Errorf("%v is not a valid mail type", config.Type)
}

func createVerificationClient(config VerificationConfig) (VerificationClient, error) {
	switch config.Type {
	case "", "local":
		return LocalVerificationClient{document.NewReferenceMatcher(document.MatcherConfig{
			MaxDistance:    config.MaxDistance,
			BlankTolerance: config.BlankTolerance,
		})}, nil
	case "remote":
		if config.RemoteUrl == "" {
			return nil, fmt.Errorf("remote verification needs a remote_url")
		}
		timeout := time.Duration(config.TimeoutSeconds) * time.Second
		return NewRemoteVerificationClient(config.RemoteUrl, timeout), nil
	}
	return nil, fmt.Errorf("%v is not a valid verification type", config.Type)
}

func (c DeletionConfig) toWizardConfig() (deletion.Config, error) {
	timings := deletion.DefaultTimings()
	if c.DurationSeconds > 0 {
		timings.DeleteDuration = time.Duration(c.DurationSeconds) * time.Second
	}
	config := deletion.Config{
		PasswordHash: []byte(c.PasswordHash),
		Reasons:      c.Reasons,
		Questions:    c.Questions,
		OTPTTL:       time.Duration(c.OtpTtlSeconds) * time.Second,
		Timings:      timings,
	}
	if config.OTPTTL <= 0 {
		config.OTPTTL = 5 * time.Minute
	}
	if err := config.Validate(); err != nil {
		return deletion.Config{}, fmt.Errorf("invalid deletion config: %w", err)
	}
	return config, nil
}

func (c VerificationConfig) toVerifierConfig() watermark.Config {
	config := watermark.DefaultConfig()
	if c.ResultHoldMs > 0 {
		config.ResultHold = time.Duration(c.ResultHoldMs) * time.Millisecond
	}
	if c.TimeoutSeconds > 0 {
		config.VerifyTimeout = time.Duration(c.TimeoutSeconds) * time.Second
	}
	return config
}

func runSessionSweeper(ctx context.Context, sessions *SessionRegistry, maxIdle time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Sweep(maxIdle)
		}
	}
}
