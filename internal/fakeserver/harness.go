package fakeserver

import (
	"context"
	"net"
	"net/http/httptest"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/clients/triton"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

// Harness serves a Server over an in-memory gRPC listener and a local HTTP server.
type Harness struct {
	Server *Server

	grpcServer *grpc.Server
	listener   *bufconn.Listener
	httpServer *httptest.Server
}

func StartHarness(opts ...Option) *Harness {
	s := New(opts...)
	h := &Harness{
		Server:     s,
		grpcServer: s.NewGRPCServer(),
		listener:   bufconn.Listen(bufSize),
		httpServer: httptest.NewServer(s.HTTPHandler()),
	}
	go func() {
		if err := h.grpcServer.Serve(h.listener); err != nil {
			log.Error().Err(err).Msg("in-memory grpc server stopped")
		}
	}()
	return h
}

// GRPCClient dials the in-memory listener. The caller closes the client.
func (h *Harness) GRPCClient(protocol triton.Protocol) (*triton.GRPCClient, error) {
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return h.listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	return triton.NewGRPCClientFromConn(conn, &triton.Config{
		Host:       "bufnet",
		Port:       "0",
		Protocol:   protocol,
		DeadlineMS: triton.DefaultDeadlineMS,
		PlainText:  true,
	}), nil
}

func (h *Harness) HTTPClient(jsonData bool) *triton.HTTPClient {
	return triton.NewHTTPClientWithBaseURL(h.httpServer.URL, h.httpServer.Client(), jsonData)
}

func (h *Harness) Close() {
	h.httpServer.Close()
	h.grpcServer.Stop()
	_ = h.listener.Close()
	_ = h.Server.Close()
}
