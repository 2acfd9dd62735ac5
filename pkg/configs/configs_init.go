package configs

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel     = "INFO"
	DefaultAppName      = "predator-qa"
	DefaultSamplingRate = "1"
	DefaultServerPort   = 8000
)

var once sync.Once

// InitEnv turns on environment lookups for every viper key.
func InitEnv() {
	once.Do(func() {
		viper.AutomaticEnv()
		log.Debug().Msg("Env initialized!")
	})
}

func InitConfig(appConfigs *AppConfigs) {
	InitEnv()

	cfg, ok := appConfigs.GetStaticConfig().(*Configs)
	if !ok {
		log.Panic().Msg("Failed to cast static config to *Configs")
	}

	setDefaults()
	bindEnvVars()

	if err := viper.Unmarshal(cfg); err != nil {
		log.Panic().Err(err).Msg("Failed to unmarshal config from environment")
	}
	log.Debug().Msg("Configuration loaded from environment variables")
}

func setDefaults() {
	viper.SetDefault("app_log_level", DefaultLogLevel)
	viper.SetDefault("app_name", DefaultAppName)
	viper.SetDefault("metrics_sampling_rate", DefaultSamplingRate)
	viper.SetDefault("predator_qa_server_port", DefaultServerPort)
}

func bindEnvVars() {
	// Application config
	_ = viper.BindEnv("app_env", "APP_ENV")
	_ = viper.BindEnv("app_log_level", "APP_LOG_LEVEL")
	_ = viper.BindEnv("app_name", "APP_NAME")

	// Metrics / Telegraf config
	_ = viper.BindEnv("metrics_sampling_rate", "METRIC_SAMPLING_RATE")
	_ = viper.BindEnv("telegraf_host", "TELEGRAF_HOST")
	_ = viper.BindEnv("telegraf_port", "TELEGRAF_PORT")

	// Verification config
	_ = viper.BindEnv("predator_qa_seed", "PREDATOR_QA_SEED")
	_ = viper.BindEnv("predator_qa_server_port", "PREDATOR_QA_SERVER_PORT")
}
