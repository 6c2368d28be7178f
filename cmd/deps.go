package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/logger"
	"github.com/vibast-solutions/ms-go-mailer/app/metrics"
	"github.com/vibast-solutions/ms-go-mailer/app/preparer"
	"github.com/vibast-solutions/ms-go-mailer/app/provider"
	"github.com/vibast-solutions/ms-go-mailer/app/queue"
	"github.com/vibast-solutions/ms-go-mailer/app/repository"
	"github.com/vibast-solutions/ms-go-mailer/app/service"
	"github.com/vibast-solutions/ms-go-mailer/app/templates"
	"github.com/vibast-solutions/ms-go-mailer/config"
)

// deps holds the process-wide collaborators shared by every command.
type deps struct {
	cfg      *config.Config
	log      *logrus.Logger
	rdb      *redis.Client
	db       *sql.DB
	history  *repository.DeliveryHistoryRepository
	engine   *templates.Engine
	provider provider.EmailProvider
	email    *service.EmailService
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// bootstrap loads configuration and connects to Redis, plus MySQL when MYSQL_DSN is set.
func bootstrap(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	d := &deps{cfg: cfg, log: log}

	d.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := d.rdb.Ping(ctx).Err(); err != nil {
		d.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if cfg.MySQLDSN != "" {
		d.db, err = repository.OpenMySQL(ctx, cfg.MySQLDSN, cfg.MySQLMaxOpen, cfg.MySQLMaxIdle, cfg.MySQLMaxLife)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.history = repository.NewDeliveryHistoryRepository(d.db)
		if err := d.history.EnsureSchema(ctx); err != nil {
			d.Close()
			return nil, err
		}
	}

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	d.metrics = metrics.New(d.registry)

	return d, nil
}

// withEmail builds the template engine, provider and email service.
func (d *deps) withEmail(ctx context.Context) error {
	engine, err := buildTemplates(d.cfg)
	if err != nil {
		return err
	}
	emailProvider, err := buildEmailProvider(ctx, d.cfg)
	if err != nil {
		return fmt.Errorf("build email provider: %w", err)
	}

	chain := preparer.NewChain(
		preparer.NewTemplateStep(engine),
		preparer.NewSubjectStep(),
		preparer.NewAddressingStep(d.cfg.ReplyToEmail),
	)
	d.engine = engine
	d.provider = emailProvider
	d.email = service.NewEmailService(chain, emailProvider, service.NewRateLimiter(d.cfg.SendRate), d.log)
	return nil
}

func (d *deps) stream() *queue.RedisStream {
	return queue.NewRedisStream(d.rdb)
}

// newConsumer builds a worker. consumerName overrides CONSUMER_ID when set.
func (d *deps) newConsumer(consumerName string) (*queue.EmailConsumer, error) {
	opts := []queue.Option{queue.WithObserver(d.metrics)}
	if d.history != nil {
		opts = append(opts, queue.WithHistory(d.history))
	}
	return queue.NewEmailConsumer(d.stream(), d.email, consumerConfig(d.cfg, consumerName), d.log, opts...)
}

// Close releases connections.
func (d *deps) Close() {
	if d.db != nil {
		_ = d.db.Close()
	}
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
}

func consumerConfig(cfg *config.Config, consumerName string) queue.ConsumerConfig {
	consumerID := cfg.ConsumerID
	if consumerName != "" {
		consumerID = consumerName
	}
	return queue.ConsumerConfig{
		StreamName:    cfg.StreamName,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerID:    consumerID,
		BatchSize:     cfg.BatchSize,
		PollInterval:  cfg.PollInterval,
		MaxRetries:    cfg.MaxRetries,
		DLQStreamName: cfg.DLQStreamName,
		ClaimIdleTime: cfg.ClaimIdleTime,
		ReadTimeout:   cfg.ReadTimeout,
		SendTimeout:   cfg.SendTimeout,
	}
}

func buildTemplates(cfg *config.Config) (*templates.Engine, error) {
	if cfg.TemplatesPath != "" {
		return templates.NewEngineFromFile(cfg.TemplatesPath)
	}
	return templates.NewEngine()
}

func buildEmailProvider(ctx context.Context, cfg *config.Config) (provider.EmailProvider, error) {
	switch strings.ToLower(cfg.EmailProvider) {
	case "", "smtp":
		return provider.NewSMTPProvider(provider.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			TLS:       cfg.SMTPTLS,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
			Timeout:   cfg.SendTimeout,
		}), nil
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, err
		}
		return provider.NewSESProvider(awsCfg, cfg.FromEmail, cfg.FromName), nil
	case "noop":
		return provider.NewNoopProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported EMAIL_PROVIDER: %s", cfg.EmailProvider)
	}
}
