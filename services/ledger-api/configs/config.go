package configs

import (
	"time"

	"github.com/coinledger/coinledger/pkg/currency"
	"github.com/coinledger/coinledger/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Port          string `mapstructure:"PORT" validate:"required"`
	PrimaryDbAddr string `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReplicaDbAddr string `mapstructure:"REPLICA_DB_ADDR"`
	MaxDbCons     int32  `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons     int32  `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`

	// Optional integrations; empty disables them.
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	KafkaBrokers   string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic     string `mapstructure:"KAFKA_TOPIC" validate:"required"`
	KafkaPartition uint32 `mapstructure:"KAFKA_PARTITION" validate:"min=1"`

	SnapshotEnabled  bool   `mapstructure:"SNAPSHOT_ENABLED"`
	SnapshotDir      string `mapstructure:"SNAPSHOT_DIR" validate:"required"`
	SnapshotSchedule string `mapstructure:"SNAPSHOT_SCHEDULE" validate:"required"`
	SnapshotKeep     int    `mapstructure:"SNAPSHOT_KEEP" validate:"min=1"`

	LeaderboardPageSize int `mapstructure:"LEADERBOARD_PAGE_SIZE" validate:"min=1"`
	CacheMaxAccounts    int `mapstructure:"CACHE_MAX_ACCOUNTS"`

	PendingTransferTTL time.Duration `mapstructure:"PENDING_TRANSFER_TTL" validate:"required"`
	TransferRate       int           `mapstructure:"TRANSFER_RATE"` // requests/sec across instances; 0 = unlimited
	TransferBurst      int           `mapstructure:"TRANSFER_BURST" validate:"min=1"`

	// Currency definitions come from the yaml file only; env cannot express them.
	Currencies    map[string]currency.Config `mapstructure:"currencies"`
	CurrencyOrder []string                   `mapstructure:"currency-order"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()

	// Default values
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("KAFKA_TOPIC", "ledger.transactions")
	viper.SetDefault("KAFKA_PARTITION", "4")
	viper.SetDefault("SNAPSHOT_ENABLED", "true")
	viper.SetDefault("SNAPSHOT_DIR", "./snapshots")
	viper.SetDefault("SNAPSHOT_SCHEDULE", "*/30 * * * *")
	viper.SetDefault("SNAPSHOT_KEEP", "5")
	viper.SetDefault("LEADERBOARD_PAGE_SIZE", "10")
	viper.SetDefault("CACHE_MAX_ACCOUNTS", "1000")
	viper.SetDefault("PENDING_TRANSFER_TTL", "60s")
	viper.SetDefault("TRANSFER_RATE", "0")
	viper.SetDefault("TRANSFER_BURST", "10")

	// Optional: Read from config.yaml if exists
	if gin.ReleaseMode == gin.Mode() {
		viper.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running in test mode")
		viper.SetConfigName("config.test")
	} else {
		logger.Warn("running in development mode")
		viper.SetConfigName("config.dev")
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./services/ledger-api/configs")
	_ = viper.ReadInConfig() // Ignore if no file

	var cfg Config
	if err := utils.ParseStructEnv(&cfg); err != nil {
		return nil, err
	}
	// Validate after unmarshal
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, utils.FormatConfigErrors(logger, err, cfg)
	}
	return &cfg, nil
}
