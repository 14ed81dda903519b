package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/sync/errgroup"

	"security-service/internal/audit"
	"security-service/internal/bucketing"
	"security-service/internal/client"
	"security-service/internal/config"
	"security-service/internal/encryption"
	"security-service/internal/hashing"
	"security-service/internal/mailer"
	"security-service/internal/repository/clickhouse"
	redisrepo "security-service/internal/repository/redis"
	"security-service/internal/repository/scylla"
	"security-service/internal/service"
	"security-service/internal/tls"
	"security-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Repositories and sinks
	otpRepository     *scylla.OTPRepository
	accountRepository *scylla.AccountRepository
	blockCache        *redisrepo.BlockCache
	settingsCache     *redisrepo.SettingsCache
	attemptStore      *clickhouse.AttemptStore
	auditStore        *clickhouse.AuditStore
	auditSink         *audit.Sink
	mail              mailer.Mailer

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()
	factory.initializeStores()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if sc, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = sc
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is best-effort: audit publishing degrades, nothing else does.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch is best-effort: audit search degrades, nothing else does.
	if es, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without audit search", util.ErrorField(err))
	} else {
		f.esClient = es
		util.Info("Elasticsearch client initialized and healthy")
	}

	// ClickHouse
	if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = ch
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Failed to load AWS config, envelope encryption falls back to local keys",
				util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("kms_client", kmsClient != nil),
	)
}

// initializeStores builds repositories, the audit sink, and the mailer on
// top of the clients.
func (f *Factory) initializeStores() {
	if f.scyllaClient != nil {
		f.otpRepository = scylla.NewOTPRepository(f.scyllaClient, util.Get())
		f.accountRepository = scylla.NewAccountRepository(f.scyllaClient, util.Get())
	}
	if f.redisClient != nil {
		f.blockCache = redisrepo.NewBlockCache(f.redisClient.Client)
		f.settingsCache = redisrepo.NewSettingsCache(f.redisClient.Client)
	}
	if f.clickhouseClient != nil {
		f.attemptStore = clickhouse.NewAttemptStore(f.clickhouseClient)
		f.auditStore = clickhouse.NewAuditStore(f.clickhouseClient)
	}

	// Interface vars stay nil unless the backing client exists, so the
	// sink can skip absent backends.
	var auditTable audit.Store
	if f.auditStore != nil {
		auditTable = f.auditStore
	}
	var producer audit.Producer
	if f.kafkaProducer != nil {
		producer = f.kafkaProducer
	}
	var indexer audit.Indexer
	if f.esClient != nil {
		indexer = f.esClient
	}
	f.auditSink = audit.NewSink(auditTable, producer, indexer,
		f.config.Kafka.AuditTopic, f.config.Elasticsearch.AuditIndex)

	if f.config.SMTP.Host != "" {
		f.mail = mailer.NewSMTPMailer(f.config)
	} else {
		f.mail = mailer.NoopMailer{}
	}
}

// ServiceFactory wires the domain services over the stores.
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.otpRepository,
			f.accountRepository,
			f.blockCache,
			f.attemptStore,
			f.settingsCache,
			f.auditSink,
			f.mail,
			f.hasher,
			f.encryptionManager,
			f.bucketingManager,
			util.Get(),
			f.config.Security.OTPMaxAttempts,
		)
	}
	return f.serviceFactory
}

// HealthCheck probes every backing client concurrently.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
	)
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		healthErrors[name] = err
	}

	g, gctx := errgroup.WithContext(ctx)

	if f.redisClient != nil {
		g.Go(func() error {
			if err := f.redisClient.HealthCheck(gctx); err != nil {
				record("redis", err)
			}
			return nil
		})
	} else {
		record("redis", fmt.Errorf("redis client not initialized"))
	}

	if f.scyllaClient != nil {
		g.Go(func() error {
			if err := f.scyllaClient.HealthCheck(); err != nil {
				record("scylla", err)
			}
			return nil
		})
	} else {
		record("scylla", fmt.Errorf("scylla client not initialized"))
	}

	if f.clickhouseClient != nil {
		g.Go(func() error {
			if err := f.clickhouseClient.HealthCheck(gctx); err != nil {
				record("clickhouse", err)
			}
			return nil
		})
	} else {
		record("clickhouse", fmt.Errorf("clickhouse client not initialized"))
	}

	if f.esClient != nil {
		g.Go(func() error {
			if err := f.esClient.HealthCheck(); err != nil {
				record("elasticsearch", err)
			}
			return nil
		})
	}

	if f.kafkaProducer != nil {
		g.Go(func() error {
			if err := f.kafkaProducer.HealthCheck(gctx); err != nil {
				record("kafka", err)
			}
			return nil
		})
	}

	_ = g.Wait()

	return healthErrors
}

// IsHealthy treats Kafka and Elasticsearch as optional; the core stores
// must all answer.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		// The sink flushes first so queued audit entries still have live
		// backends to land in.
		if f.auditSink != nil {
			f.auditSink.Close()
			util.Info("Audit sink drained")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ESClient() *client.ESClient {
	return f.esClient
}

func (f *Factory) AuditStore() *clickhouse.AuditStore {
	return f.auditStore
}

func (f *Factory) AuditSink() *audit.Sink {
	return f.auditSink
}
