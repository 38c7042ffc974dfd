package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

const (
	// EnvPrefix — префикс переменных окружения сервиса.
	EnvPrefix = "FULFILLMENT"
	// ConfigFileEnv задаёт путь к YAML-файлу конфигурации.
	ConfigFileEnv = EnvPrefix + "_CONFIG"

	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config — полная конфигурация сервиса. Значения берутся из тегов default,
// YAML-файла, переменных окружения FULFILLMENT_* и флагов, в этом порядке.
type Config struct {
	Log             LogConfig
	GRPC            GRPCConfig
	HTTP            HTTPConfig
	Metrics         MetricsConfig
	Storage         StorageConfig
	Kafka           KafkaConfig
	Outbox          OutboxConfig
	Idempotency     IdempotencyConfig
	Catalog         CatalogConfig
	ShutdownTimeout time.Duration `default:"10s" usage:"Graceful shutdown limit"`
}

type LogConfig struct {
	Level  string `default:"info" usage:"Log level: debug|info|warn|error"`
	Format string `default:"text" usage:"Log format: text|json"`
}

type GRPCConfig struct {
	Addr string `default:":50051" usage:"gRPC listen address"`
}

type HTTPConfig struct {
	Addr string `default:":8080" usage:"REST API listen address"`
}

type MetricsConfig struct {
	Addr string `default:":9090" usage:"Metrics and health listen address"`
}

// StorageConfig выбирает хранилище заказов.
type StorageConfig struct {
	Driver          string        `default:"memory" usage:"Storage driver: memory|postgres"`
	DSN             string        `usage:"PostgreSQL DSN"`
	AutoMigrate     bool          `default:"true" usage:"Apply migrations on start"`
	MaxOpenConns    int           `default:"25"`
	MaxIdleConns    int           `default:"25"`
	ConnMaxLifetime time.Duration `default:"30m"`
}

// KafkaConfig — пустой список брокеров отключает публикацию outbox и consumer статусов поставщика.
type KafkaConfig struct {
	Brokers             []string `usage:"Kafka brokers, comma separated"`
	ClientID            string   `default:"fulfillment-service"`
	OrderEventsTopic    string   `default:"fulfillment.order.events"`
	SupplierStatusTopic string   `default:"fulfillment.supplier.status"`
	ConsumerGroup       string   `default:"fulfillment-supplier-status"`
	MaxRetries          int      `default:"3" usage:"In-process retries before DLQ"`
}

type OutboxConfig struct {
	PollInterval   time.Duration `default:"1s"`
	BatchSize      int           `default:"100"`
	MaxAttempts    int           `default:"5"`
	RetryBaseDelay time.Duration `default:"200ms"`
}

type IdempotencyConfig struct {
	TTL              time.Duration `default:"24h"`
	CleanupSchedule  string        `default:"@every 10m" usage:"Cron schedule of expired keys cleanup"`
	CleanupBatchSize int           `default:"500"`
}

// CatalogConfig — товары, которыми заполняется каталог при старте.
// Формат записи: id|name|packs_per_pallet|price_per_pack.
type CatalogConfig struct {
	Products []string `default:"cement-50kg|Cement 50kg|100|500.00,rebar-12mm|Rebar 12mm|50|300.00"`
}

// DefaultConfig возвращает конфигурацию только из значений по умолчанию.
func DefaultConfig() Config {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFiles: true,
		SkipEnv:   true,
		SkipFlags: true,
	})
	if err := loader.Load(); err != nil {
		panic(errors.Wrap(err, "load default config"))
	}
	return cfg
}

// LoadConfig читает конфигурацию. args — аргументы командной строки без имени программы.
func LoadConfig(args []string) (Config, error) {
	var cfg Config

	files := []string{"fulfillment.yaml", "/etc/fulfillment/config.yaml"}
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		files = []string{path}
	}
	if args == nil {
		args = []string{}
	}

	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:        EnvPrefix,
		AllowUnknownEnvs: true,
		Args:             args,
		FileFlag:         "config",
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
			".yml":  aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("storage dsn is required for postgres driver")
		}
	default:
		return errors.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "parse log level")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.Errorf("unsupported log format %q", c.Log.Format)
	}
	if _, err := c.Catalog.Entries(); err != nil {
		return err
	}
	return nil
}

// KafkaEnabled сообщает, настроены ли брокеры.
func (c Config) KafkaEnabled() bool {
	for _, broker := range c.Kafka.Brokers {
		if strings.TrimSpace(broker) != "" {
			return true
		}
	}
	return false
}

// Entries разбирает записи каталога.
func (c CatalogConfig) Entries() ([]domain.CatalogEntry, error) {
	entries := make([]domain.CatalogEntry, 0, len(c.Products))
	for _, raw := range c.Products {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, "|")
		if len(parts) != 4 {
			return nil, errors.Errorf("catalog product %q: want id|name|packs_per_pallet|price_per_pack", raw)
		}
		packs, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "catalog product %q: parse packs per pallet", raw)
		}
		price, err := money.Parse(strings.TrimSpace(parts[3]))
		if err != nil {
			return nil, errors.Wrapf(err, "catalog product %q: parse price", raw)
		}
		entries = append(entries, domain.CatalogEntry{
			ProductID:      strings.TrimSpace(parts[0]),
			Name:           strings.TrimSpace(parts[1]),
			PacksPerPallet: packs,
			PricePerPack:   price,
		})
	}
	return entries, nil
}

// SetupLogger настраивает глобальный logrus по секции log.
func SetupLogger(cfg LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return errors.Wrap(err, "parse log level")
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
