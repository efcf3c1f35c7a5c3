package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/viper"

	"github.com/84hero/oracle-scope/internal/webhook"
	"github.com/84hero/oracle-scope/pkg/api"
	"github.com/84hero/oracle-scope/pkg/config"
	"github.com/84hero/oracle-scope/pkg/scanner"
	"github.com/84hero/oracle-scope/pkg/session"
	"github.com/84hero/oracle-scope/pkg/sink"
	"github.com/84hero/oracle-scope/pkg/storage"
	"github.com/84hero/oracle-scope/pkg/values"
)

// --- Output Configuration Structs ---

type AppConfig struct {
	Outputs OutputsConfig `mapstructure:"outputs"`
}

type OutputsConfig struct {
	Webhook  WebhookOutputConfig  `mapstructure:"webhook"`
	File     FileOutputConfig     `mapstructure:"file"`
	Console  ConsoleOutputConfig  `mapstructure:"console"`
	Postgres PostgresOutputConfig `mapstructure:"postgres"`
	Redis    RedisOutputConfig    `mapstructure:"redis"`
	Kafka    KafkaOutputConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQOutputConfig `mapstructure:"rabbitmq"`
}

type WebhookOutputConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	URL        string         `mapstructure:"url"`
	Secret     string         `mapstructure:"secret"`
	Retry      webhook.Config `mapstructure:"retry"`
	Async      bool           `mapstructure:"async"`
	BufferSize int            `mapstructure:"buffer_size"`
	Workers    int            `mapstructure:"workers"`
}

type FileOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ConsoleOutputConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type PostgresOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Table   string `mapstructure:"table"`
}

type RedisOutputConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Mode     string `mapstructure:"mode"`
}

type KafkaOutputConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type RabbitMQOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
	QueueName  string `mapstructure:"queue_name"`
	Durable    bool   `mapstructure:"durable"`
}

// --- Helper Functions ---

func loadAppConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func initOutputs(appCfg *AppConfig) []sink.Output {
	var outputs []sink.Output

	// Webhook
	wh := appCfg.Outputs.Webhook
	if wh.Enabled {
		whCfg := wh.Retry
		whCfg.URL = wh.URL
		whCfg.Secret = wh.Secret
		outputs = append(outputs, sink.NewWebhookOutput(whCfg, wh.Async, wh.BufferSize, wh.Workers))
	}

	// File
	if appCfg.Outputs.File.Enabled {
		if fo, err := sink.NewFileOutput(appCfg.Outputs.File.Path); err == nil {
			outputs = append(outputs, fo)
		}
	}

	// Console
	if appCfg.Outputs.Console.Enabled {
		outputs = append(outputs, sink.NewConsoleOutput())
	}

	// Postgres
	if appCfg.Outputs.Postgres.Enabled {
		if po, err := sink.NewPostgresOutput(appCfg.Outputs.Postgres.URL, appCfg.Outputs.Postgres.Table); err == nil {
			outputs = append(outputs, po)
		}
	}

	// Redis
	if appCfg.Outputs.Redis.Enabled {
		if ro, err := sink.NewRedisOutput(appCfg.Outputs.Redis.Addr, appCfg.Outputs.Redis.Password, appCfg.Outputs.Redis.DB, appCfg.Outputs.Redis.Key, appCfg.Outputs.Redis.Mode); err == nil {
			outputs = append(outputs, ro)
		}
	}

	// Kafka
	if appCfg.Outputs.Kafka.Enabled {
		if ko, err := sink.NewKafkaOutput(appCfg.Outputs.Kafka.Brokers, appCfg.Outputs.Kafka.Topic, appCfg.Outputs.Kafka.User, appCfg.Outputs.Kafka.Password); err == nil {
			outputs = append(outputs, ko)
		}
	}

	// RabbitMQ
	if appCfg.Outputs.RabbitMQ.Enabled {
		if ro, err := sink.NewRabbitMQOutput(appCfg.Outputs.RabbitMQ.URL, appCfg.Outputs.RabbitMQ.Exchange, appCfg.Outputs.RabbitMQ.RoutingKey, appCfg.Outputs.RabbitMQ.QueueName, appCfg.Outputs.RabbitMQ.Durable); err == nil {
			outputs = append(outputs, ro)
		}
	}

	return outputs
}

func initStore(cfg *config.Config) storage.Persistence {
	prefix := cfg.Scan.CheckpointPrefix
	if prefix == "" {
		prefix = cfg.Project + "_"
	}
	if dbURL := os.Getenv("PG_URL"); dbURL != "" {
		if store, err := storage.NewPostgresStore(dbURL, prefix); err == nil {
			return store
		}
		log.Warn("Postgres checkpoint store unavailable, falling back to memory")
	} else if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		if store, err := storage.NewRedisStore(redisAddr, "", 0, prefix); err == nil {
			return store
		}
		log.Warn("Redis checkpoint store unavailable, falling back to memory")
	}
	return storage.NewMemoryStore(prefix)
}

func main() {
	if err := Run(context.Background()); err != nil && err != context.Canceled {
		log.Crit("Application failed", "err", err)
		os.Exit(1)
	}
}

// Run is the testable entry point of the CLI application
func Run(ctx context.Context) error {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	coreConfigFile := os.Getenv("CONFIG_FILE")
	if coreConfigFile == "" {
		coreConfigFile = "config.yaml"
	}
	cfg, err := config.Load(coreConfigFile)
	if err != nil {
		return err
	}

	// Setup Logger
	logLevel := log.LevelInfo
	if cfg.Log.Level == "debug" {
		logLevel = log.LevelDebug
	} else if cfg.Log.Level == "warn" {
		logLevel = log.LevelWarn
	} else if cfg.Log.Level == "error" {
		logLevel = log.LevelError
	}

	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, logLevel, true)))

	appConfigFile := os.Getenv("APP_CONFIG_FILE")
	if appConfigFile == "" {
		appConfigFile = "app.yaml"
	}
	appCfg, err := loadAppConfig(appConfigFile)
	if err != nil {
		log.Warn("Failed to load app config", "err", err)
		appCfg = &AppConfig{}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outputs := initOutputs(appCfg)
	defer func() {
		for _, o := range outputs {
			o.Close()
		}
	}()

	store := initStore(cfg)
	defer store.Close()

	scanKey := cfg.Project
	if scanKey == "" {
		scanKey = cfg.Scan.Contract
	}

	sess := session.New(session.Options{
		ChainID:      cfg.Scan.ChainID,
		Contract:     common.HexToAddress(cfg.Scan.Contract),
		Endpoints:    cfg.RPC.Endpoints,
		QPS:          cfg.RPC.QPS,
		ChainListURL: cfg.Registry.ChainListURL,
		AssetURL:     cfg.Registry.AssetURL,
		ABIURL:       cfg.Registry.ABIURL,
		Scan: scanner.Config{
			ScanKey:                scanKey,
			InitialChunkSize:       cfg.Scan.InitialChunkSize,
			MaxChunkSize:           cfg.Scan.MaxChunkSize,
			MinChunkSize:           cfg.Scan.MinChunkSize,
			TxBatchSize:            cfg.Scan.TxBatchSize,
			BatchAttempts:          cfg.Scan.BatchAttempts,
			InitialRetryDelay:      cfg.Scan.InitialRetryDelay,
			MaxRetryDelay:          cfg.Scan.MaxRetryDelay,
			MaxConsecutiveFailures: cfg.Scan.MaxConsecutiveFailures,
		},
		Values: values.Config{
			BatchSize:     cfg.Values.BatchSize,
			BatchPause:    cfg.Values.BatchPause,
			RetryAttempts: cfg.Values.RetryAttempts,
			RetryDelay:    cfg.Values.RetryDelay,
		},
		Store:   store,
		Outputs: outputs,
	})

	// API server
	srv := &http.Server{
		Addr:    cfg.API.Listen,
		Handler: api.NewServer(sess).Router(),
	}
	go func() {
		log.Info("API listening", "addr", cfg.API.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("API server failed", "err", err)
		}
	}()

	go func() {
		if err := sess.Run(runCtx); err != nil {
			log.Error("Scan session failed", "err", err)
		} else {
			state := sess.State()
			log.Info("Scan session ended", "status", state.Status, "txs", state.TxFound)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Shutting down...")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	time.Sleep(500 * time.Millisecond)
	return nil
}
