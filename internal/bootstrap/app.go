package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"gophergpt-bot/internal/ai"
	appsvc "gophergpt-bot/internal/app"
	"gophergpt-bot/internal/attachment"
	"gophergpt-bot/internal/config"
	mysqlClient "gophergpt-bot/internal/platform/mysql"
	rabbitmqClient "gophergpt-bot/internal/platform/rabbitmq"
	redisClient "gophergpt-bot/internal/platform/redis"
	"gophergpt-bot/internal/quota"
	"gophergpt-bot/internal/repository"
	"gophergpt-bot/internal/session"
	"gophergpt-bot/internal/transport/telegram"
	"gophergpt-bot/internal/worker"
)

type App struct {
	Config   *config.Config
	Store    session.Store
	Sessions *session.Manager
	Tracker  *quota.Tracker
	Bot      *telegram.Bot
	Service  *appsvc.BotService

	Redis            *redis.Client
	MySQL            *gorm.DB
	MQConn           *amqp.Connection
	Publisher        *rabbitmqClient.TranscriptPublisher
	Transcripts      *repository.TranscriptRepository
	TranscriptWorker *worker.TranscriptPersistWorker

	StartedAt time.Time
}

// New wires every component from cfg. On error, whatever was opened so far
// is closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, StartedAt: time.Now()}
	ready := false
	defer func() {
		if !ready {
			_ = app.Close()
		}
	}()

	var err error

	if cfg.UsesRedis() {
		app.Redis, err = redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
	}

	app.Store, err = newStore(cfg, app.Redis)
	if err != nil {
		return nil, err
	}
	app.Sessions = session.NewManager(app.Store)
	app.Tracker = quota.NewTracker(
		cfg.Quota.Limit,
		time.Duration(cfg.Quota.ResetWindowSeconds)*time.Second,
		quota.NewAdminSet(cfg.Quota.AdminUsers...),
	)

	var publisher appsvc.TranscriptPublisher
	if cfg.Archive.Enabled {
		if err = app.startArchive(ctx); err != nil {
			return nil, err
		}
		publisher = app.Publisher
	}

	app.Bot, err = telegram.New(telegram.Options{
		Token:       cfg.Telegram.BotToken,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		PollTimeout: cfg.Telegram.PollTimeoutSeconds,
		SendRate:    cfg.Telegram.SendRate,
		SendBurst:   cfg.Telegram.SendBurst,
		Debug:       cfg.Telegram.Debug,
	})
	if err != nil {
		return nil, err
	}

	completer := ai.NewCompleter(
		ai.NewOpenAICompatibleClient(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
		ai.ChatConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
		},
		cfg.LLM.VisionModel,
		cfg.LLM.MaxImageDimension,
	)
	fetcher := attachment.NewFetcher(
		time.Duration(cfg.Attachment.TimeoutSeconds)*time.Second,
		cfg.Attachment.MaxBytes,
	)

	app.Service, err = appsvc.NewBotService(app.Sessions, app.Tracker, completer, fetcher, app.Bot, app.Bot, publisher)
	if err != nil {
		return nil, fmt.Errorf("build bot service failed: %w", err)
	}

	slog.Info("bot ready",
		"username", app.Bot.Username(),
		"session_backend", cfg.Session.Backend,
		"message_limit", cfg.Quota.Limit,
		"admins", len(cfg.Quota.AdminUsers),
		"archive", cfg.Archive.Enabled,
	)
	ready = true
	return app, nil
}

func newStore(cfg *config.Config, redisCli *redis.Client) (session.Store, error) {
	switch cfg.Session.Backend {
	case session.BackendMemory:
		return session.NewMemoryStore(), nil
	case session.BackendFile:
		store, err := session.NewFileStore(cfg.Session.FilePath)
		if err != nil {
			return nil, fmt.Errorf("open session file failed: %w", err)
		}
		return store, nil
	case session.BackendSQLite:
		store, err := session.NewSQLiteStore(cfg.Session.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open session database failed: %w", err)
		}
		return store, nil
	case session.BackendRedis:
		ttl := time.Duration(cfg.Session.RedisTTLSeconds) * time.Second
		return session.NewRedisStore(redisCli, cfg.Session.RedisPrefix, ttl), nil
	default:
		return nil, fmt.Errorf("%w: %q", session.ErrUnknownBackend, cfg.Session.Backend)
	}
}

func (a *App) startArchive(ctx context.Context) error {
	var err error
	a.MySQL, err = mysqlClient.New(ctx, a.Config.MySQLDSN())
	if err != nil {
		return err
	}

	a.MQConn, err = rabbitmqClient.New(ctx, a.Config.RabbitMQ.URL, a.Config.RabbitMQ.TranscriptQueue)
	if err != nil {
		return err
	}

	a.Transcripts = repository.NewTranscriptRepository(a.MySQL)
	a.TranscriptWorker = worker.NewTranscriptPersistWorker(a.MQConn, a.Transcripts, a.Config.RabbitMQ.TranscriptQueue)
	if err := a.TranscriptWorker.Start(ctx); err != nil {
		return fmt.Errorf("start transcript worker failed: %w", err)
	}
	a.Publisher = rabbitmqClient.NewTranscriptPublisher(a.MQConn, a.Config.RabbitMQ.TranscriptQueue)
	return nil
}

// Close releases resources in reverse dependency order.
func (a *App) Close() error {
	var closeErr error
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			closeErr = err
		}
	}
	if a.TranscriptWorker != nil {
		a.TranscriptWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	return closeErr
}
