package fakeserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

// Serve multiplexes gRPC and HTTP on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	mux := cmux.New(lis)
	httpListener := mux.Match(cmux.HTTP1Fast())
	grpcListener := mux.Match(cmux.Any())

	grpcServer := s.NewGRPCServer()
	httpServer := &http.Server{Handler: s.HTTPHandler(), ReadHeaderTimeout: shutdownTimeout}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Serve(grpcListener); err != nil && !isClosed(err) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !isClosed(err) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := mux.Serve(); err != nil && !isClosed(err) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(grpcServer, httpServer)
		mux.Close()
		return nil
	})
	log.Info().Str("address", lis.Addr().String()).Msg("predator-qa server listening")
	return g.Wait()
}

func shutdown(grpcServer *grpc.Server, httpServer *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	grpcServer.Stop()
}

func isClosed(err error) bool {
	return errors.Is(err, cmux.ErrListenerClosed) ||
		errors.Is(err, cmux.ErrServerClosed) ||
		errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, grpc.ErrServerStopped) ||
		errors.Is(err, net.ErrClosed)
}
