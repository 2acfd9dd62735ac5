package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Meesho/BharatMLStack/predator-qa/internal/fakeserver"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/configs"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/logger"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/metric"
	"github.com/rs/zerolog/log"
)

var appConfigs configs.AppConfigs

func main() {
	configs.InitConfig(&appConfigs)
	logger.InitLogger(&appConfigs)
	metric.InitMetrics(&appConfigs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(appConfigs.Configs.ServerPort))
	if err != nil {
		log.Panic().Err(err).Msgf("Failed to listen on port %d", appConfigs.Configs.ServerPort)
	}
	server := fakeserver.New()
	defer func() {
		if err := server.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close server")
		}
	}()

	log.Info().Msgf("Starting predator-qa server on port :%d", appConfigs.Configs.ServerPort)
	if err := server.Serve(ctx, listener); err != nil {
		log.Panic().Err(err).Msg("Error running predator-qa server")
	}
}
