package metric

import (
	"fmt"
	"strconv"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/configs"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/logger"
	"github.com/rs/zerolog/log"
)

const (
	VerificationLatency = "predator_qa.verification.latency"
	VerificationTotal   = "predator_qa.verification.total"
	RegionTotal         = "predator_qa.shm.region.total"
	SuiteCaseTotal      = "predator_qa.suite.case.total"
)

var (
	// It is safe to use one Client from multiple goroutines simultaneously. Metrics
	// are dropped until InitMetrics runs.
	statsDClient statsd.ClientInterface = &statsd.NoOpClient{}

	// by default full sampling
	samplingRate = 1.0
)

func InitMetrics(configs *configs.AppConfigs) {
	var err error
	samplingRate, err = strconv.ParseFloat(configs.Configs.MetricsSamplingRate, 64)
	if err != nil {
		logger.Panic("Error parsing metrics sampling rate", err)
	}
	if configs.Configs.Telegraf_Host == "" {
		logger.Info("Telegraf host not set, metrics are disabled")
		return
	}
	telegrafAddress := configs.Configs.Telegraf_Host + ":" + configs.Configs.Telegraf_Port
	globalTags := BuildTag(
		NewTag(TagEnv, configs.Configs.ApplicationEnv),
		NewTag(TagService, configs.Configs.ApplicationName),
	)

	client, err := statsd.New(telegrafAddress, statsd.WithTags(globalTags))
	if err != nil {
		logger.Error("StatsD client initialization failed, metrics will be unavailable", err)
		return
	}
	statsDClient = client
	logger.Info(fmt.Sprintf("Metrics client initialized with telegraf address - %s, global tags - %v, and sampling rate - %f",
		telegrafAddress, globalTags, samplingRate))
}

// SetClient replaces the statsd client, used by tests.
func SetClient(client statsd.ClientInterface) {
	statsDClient = client
}

// Close flushes and closes the statsd client.
func Close() error {
	return statsDClient.Close()
}

func Timing(name string, value time.Duration, tags []string) {
	if err := statsDClient.Timing(name, value, tags, samplingRate); err != nil {
		log.Warn().Err(err).Msg("Error occurred while doing statsd timing")
	}
}

func Count(name string, value int64, tags []string) {
	if err := statsDClient.Count(name, value, tags, samplingRate); err != nil {
		log.Warn().Err(err).Msg("Error occurred while doing statsd count")
	}
}

func Incr(name string, tags []string) {
	if err := statsDClient.Incr(name, tags, samplingRate); err != nil {
		log.Warn().Err(err).Msg("Error occurred while doing statsd incr")
	}
}
