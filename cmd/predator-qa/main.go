package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/configs"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/logger"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/metric"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var appConfigs configs.AppConfigs

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "predator-qa",
		Short:         "Verify an inference server against the addsub, zero and shape tensor models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configs.InitConfig(&appConfigs)
			logger.InitLogger(&appConfigs)
			metric.InitMetrics(&appConfigs)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if err := metric.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close metrics client")
			}
		},
	}
	root.AddCommand(newRunCmd(), newExactCmd(), newZeroCmd(), newShapeCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("predator-qa failed")
		os.Exit(1)
	}
}
