package fakeserver

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/clients/triton"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_OnePort(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(lis.Addr().(*net.TCPAddr).Port)

	ctx, cancel := context.WithCancel(context.Background())
	s := New()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	for _, protocol := range []triton.Protocol{triton.ProtocolHTTP, triton.ProtocolGRPC, triton.ProtocolGRPCStream} {
		t.Run(protocol.String(), func(t *testing.T) {
			client, err := triton.NewClient(&triton.Config{
				Host:       "127.0.0.1",
				Port:       port,
				Protocol:   protocol,
				DeadlineMS: triton.DefaultDeadlineMS,
				PlainText:  true,
			})
			require.NoError(t, err)
			defer client.Close()

			resp, err := client.Infer(context.Background(), addSubRequest(t, "graphdef_int32_int32_int32"))
			require.NoError(t, err)
			assert.Equal(t, "graphdef_int32_int32_int32", resp.ModelName)
		})
	}

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, int64(3), s.Served())
}
