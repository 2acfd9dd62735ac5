package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/suite"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/verify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// commonFlags are shared by every command that talks to a server.
type commonFlags struct {
	transports []string
	seed       uint64
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.transports, "transports", nil,
		"transports to verify through: http, http_json, grpc, grpc_stream (default all)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "random seed, overrides PREDATOR_QA_SEED")
}

// resolveSeed prefers the flag, then the suite, then the environment, then the clock.
func (f *commonFlags) resolveSeed(suiteSeed uint64) uint64 {
	for _, seed := range []uint64{f.seed, suiteSeed, appConfigs.Configs.Seed} {
		if seed != 0 {
			return seed
		}
	}
	return uint64(time.Now().UnixNano())
}

func newRunCmd() *cobra.Command {
	var (
		flags commonFlags
		path  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every case of a suite file",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := suite.Load(path)
			if err != nil {
				return err
			}
			if len(flags.transports) > 0 {
				s.Transports = flags.transports
			}
			return runSuite(cmd.Context(), s, flags.resolveSeed(s.Seed))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&path, "suite", "", "path of the suite YAML file")
	_ = cmd.MarkFlagRequired("suite")
	return cmd
}

func runSuite(ctx context.Context, s *suite.Suite, seed uint64) error {
	transports, err := suite.DialTransports(s.Transports)
	if err != nil {
		return err
	}
	defer func() {
		if err := suite.CloseTransports(transports); err != nil {
			log.Warn().Err(err).Msg("failed to close transports")
		}
	}()

	log.Info().Str("suite", s.Name).Uint64("seed", seed).Strs("transports", s.Transports).
		Int("cases", len(s.Cases)).Msg("running suite")
	results := suite.NewRunner(verify.New(transports, verify.WithSeed(seed))).Run(ctx, s)
	failed := suite.Failed(results)
	log.Info().Str("suite", s.Name).Int("passed", len(results)-failed).Int("failed", failed).Msg("suite finished")
	if failed > 0 {
		return fmt.Errorf("%d of %d cases failed", failed, len(s.Cases))
	}
	if len(results) < len(s.Cases) {
		return fmt.Errorf("suite interrupted after %d of %d cases", len(results), len(s.Cases))
	}
	return nil
}

// runSingle runs one flag-built case as a suite of one.
func runSingle(ctx context.Context, flags *commonFlags, c suite.Case) error {
	s := &suite.Suite{
		Name:       c.Name,
		Transports: flags.transports,
		Cases:      []suite.Case{c},
	}
	if len(s.Transports) == 0 {
		s.Transports = []string{suite.TransportHTTP, suite.TransportHTTPJSON, suite.TransportGRPC, suite.TransportGRPCStream}
	}
	if err := s.Validate(); err != nil {
		return err
	}
	return runSuite(ctx, s, flags.resolveSeed(0))
}
