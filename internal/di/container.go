package di

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/events"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/gateway"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/handler"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/repository"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/service"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/worker"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/config"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/database"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/kafka"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/logger"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/redis"
)

// Infrastructure holds external connections shared by the service and the worker
type Infrastructure struct {
	DB    *database.PostgresDB
	Redis *redis.Client
	Kafka *kafka.Producer
}

// ConnectInfrastructure opens the connections enabled in cfg.
// The database is required when enabled; Redis only when it backs idempotency; Kafka never.
func ConnectInfrastructure(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{}

	if cfg.Database.Enabled {
		dbCfg := &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      cfg.Database.MaxRetries,
			RetryInterval:   time.Second,
			EnableTracing:   cfg.OTel.Enabled,
		}
		db, err := database.NewPostgres(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		infra.DB = db
		log.Info("Database connected", zap.Int32("min_conns", dbCfg.MinConns), zap.Int32("max_conns", dbCfg.MaxConns))

		if cfg.Database.RunMigrations {
			if err := repository.Migrate(ctx, db); err != nil {
				infra.Close()
				return nil, fmt.Errorf("migrations failed: %w", err)
			}
		}
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, &redis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
		})
		switch {
		case err == nil:
			infra.Redis = redisClient
			log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
		case cfg.Idempotency.Store == "redis":
			infra.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		default:
			log.Warn("Redis connection failed, using in-process locks", zap.Error(err))
		}
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			log.Warn("Kafka producer unavailable, transaction events disabled", zap.Error(err))
		} else {
			infra.Kafka = producer
			log.Info("Kafka producer connected", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	}

	return infra, nil
}

// Close releases all open connections
func (i *Infrastructure) Close() {
	if i.Kafka != nil {
		_ = i.Kafka.Close()
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}

// Container holds all dependencies for the payment orchestrator
type Container struct {
	// Infrastructure
	Infra *Infrastructure

	// Gateway
	Gateway gateway.Client

	// Repositories
	Transactions   repository.TransactionRepository
	Customers      repository.CustomerRepository
	PaymentMethods repository.PaymentMethodRepository
	Idempotency    repository.IdempotencyStore
	Locker         repository.Locker
	Events         events.Publisher

	// Services
	Profiles     *service.CustomerProfileManager
	Reconciler   *service.Reconciler
	Orchestrator *service.TransactionOrchestrator

	// Workers
	ReconcileWorker *worker.ReconcileWorker

	// Handlers
	HealthHandler      *handler.HealthHandler
	TransactionHandler *handler.TransactionHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config  *config.Config
	Infra   *Infrastructure
	Gateway gateway.Client
	Metrics service.Metrics
	Logger  *logger.Logger
}

// NewContainer wires repositories, services, workers and handlers.
// Without a database the repositories fall back to in-memory storage.
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, fmt.Errorf("container config is required")
	}
	appCfg := cfg.Config
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	infra := cfg.Infra
	if infra == nil {
		infra = &Infrastructure{}
	}

	c := &Container{Infra: infra, Gateway: cfg.Gateway}

	if c.Gateway == nil {
		gw, err := gateway.NewClient(&gateway.Config{
			Type:            appCfg.Gateway.Type,
			StripeSecretKey: appCfg.Gateway.StripeSecretKey,
			CallTimeout:     appCfg.Gateway.CallTimeout,
			MockDelay:       appCfg.Gateway.MockDelay,
			MockHangDelay:   appCfg.Gateway.MockHangDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gateway: %w", err)
		}
		c.Gateway = gw
	}

	if infra.DB != nil {
		c.Transactions = repository.NewPostgresTransactionRepository(infra.DB)
		c.Customers = repository.NewPostgresCustomerRepository(infra.DB)
		c.PaymentMethods = repository.NewPostgresPaymentMethodRepository(infra.DB)
	} else {
		store := repository.NewMemoryStore()
		c.Transactions = repository.NewMemoryTransactionRepository(store)
		c.Customers = repository.NewMemoryCustomerRepository(store)
		c.PaymentMethods = repository.NewMemoryPaymentMethodRepository(store)
		log.Warn("Using in-memory repositories (data will not persist)")
	}

	ttl := repository.IdempotencyTTL{
		Processing: appCfg.Idempotency.ProcessingTTL,
		Completed:  appCfg.Idempotency.CompletedTTL,
	}
	switch appCfg.Idempotency.Store {
	case "postgres":
		if infra.DB == nil {
			return nil, fmt.Errorf("postgres idempotency store requires a database connection")
		}
		c.Idempotency = repository.NewPostgresIdempotencyStore(infra.DB, ttl)
	case "redis":
		if infra.Redis == nil {
			return nil, fmt.Errorf("redis idempotency store requires a redis connection")
		}
		c.Idempotency = repository.NewRedisIdempotencyStore(infra.Redis, ttl)
	case "memory", "":
		c.Idempotency = repository.NewMemoryIdempotencyStore(ttl)
	default:
		return nil, fmt.Errorf("unknown idempotency store: %s", appCfg.Idempotency.Store)
	}

	if infra.Redis != nil {
		c.Locker = repository.NewRedisLocker(infra.Redis)
	} else {
		c.Locker = repository.NewMemoryLocker()
		log.Warn("Using in-process transaction locks (single instance only)")
	}

	if infra.Kafka != nil {
		c.Events = events.NewKafkaPublisher(infra.Kafka, appCfg.Kafka.Topic, appCfg.App.Name)
	} else {
		c.Events = events.NewNoopPublisher()
	}

	c.Profiles = service.NewCustomerProfileManager(c.Customers, c.PaymentMethods, c.Gateway, log)
	c.Reconciler = service.NewReconciler(c.Transactions, c.Gateway, nil, c.Events, cfg.Metrics, log,
		&service.ReconcilerConfig{
			MinAge:         appCfg.Reconciliation.MinAge,
			LookupRetries:  appCfg.Reconciliation.LookupRetries,
			LookupInterval: appCfg.Reconciliation.LookupInterval,
		})
	c.Orchestrator = service.NewTransactionOrchestrator(service.OrchestratorDeps{
		Transactions: c.Transactions,
		Idempotency:  c.Idempotency,
		Locker:       c.Locker,
		Profiles:     c.Profiles,
		Gateway:      c.Gateway,
		Reconciler:   c.Reconciler,
		Events:       c.Events,
		Metrics:      cfg.Metrics,
		Logger:       log,
	}, &service.OrchestratorConfig{
		InFlightWait: appCfg.Idempotency.InFlightWait,
		PollInterval: appCfg.Idempotency.PollInterval,
		LockTTL:      appCfg.Idempotency.ProcessingTTL,
		// Inline reconciliation gets the same budget as the call it follows up
		ReconcileTimeout: appCfg.Gateway.CallTimeout,
	})

	c.ReconcileWorker = worker.NewReconcileWorker(c.Reconciler, c.Profiles, &worker.ReconcileWorkerConfig{
		ScanInterval: appCfg.Reconciliation.ScanInterval,
		BatchSize:    appCfg.Reconciliation.BatchSize,
	}, log)

	components := map[string]handler.HealthChecker{"database": nil, "redis": nil}
	if infra.DB != nil {
		components["database"] = infra.DB
	}
	if infra.Redis != nil {
		components["redis"] = infra.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(components)
	c.TransactionHandler = handler.NewTransactionHandler(c.Orchestrator)

	return c, nil
}
