package suite

import (
	"errors"
	"fmt"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/clients/triton"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/verify"
)

const (
	TransportHTTP       = "http"
	TransportHTTPJSON   = "http_json"
	TransportGRPC       = "grpc"
	TransportGRPCStream = "grpc_stream"
)

func knownTransport(name string) bool {
	switch name {
	case TransportHTTP, TransportHTTPJSON, TransportGRPC, TransportGRPCStream:
		return true
	}
	return false
}

// DialTransports builds one client per transport name from the PREDATOR_QA_HTTP_
// and PREDATOR_QA_GRPC_ environment configs.
func DialTransports(names []string) ([]verify.Transport, error) {
	transports := make([]verify.Transport, 0, len(names))
	for _, name := range names {
		client, err := dial(name)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("transport %s: %w", name, err), CloseTransports(transports))
		}
		transports = append(transports, verify.Transport{Name: name, Client: client})
	}
	return transports, nil
}

func dial(name string) (triton.Client, error) {
	var (
		conf *triton.Config
		err  error
	)
	switch name {
	case TransportHTTP, TransportHTTPJSON:
		conf, err = triton.GetClientConfigs(triton.HTTPPrefix, triton.ProtocolHTTP)
		if conf != nil {
			conf.JSON = name == TransportHTTPJSON
		}
	case TransportGRPC:
		conf, err = triton.GetClientConfigs(triton.GRPCPrefix, triton.ProtocolGRPC)
	case TransportGRPCStream:
		conf, err = triton.GetClientConfigs(triton.GRPCPrefix, triton.ProtocolGRPCStream)
	default:
		return nil, fmt.Errorf("unknown transport %s", name)
	}
	if err != nil {
		return nil, err
	}
	return triton.NewClient(conf)
}

func CloseTransports(transports []verify.Transport) error {
	var errs []error
	for _, tr := range transports {
		if err := tr.Client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", tr.Name, err))
		}
	}
	return errors.Join(errs...)
}
