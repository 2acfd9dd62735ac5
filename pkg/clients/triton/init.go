package triton

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// NewClient builds the client for conf.Protocol.
func NewClient(conf *Config) (Client, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	switch conf.Protocol {
	case ProtocolHTTP:
		return NewHTTPClient(conf)
	case ProtocolGRPC, ProtocolGRPCStream:
		return NewGRPCClient(conf)
	}
	return nil, fmt.Errorf("unsupported protocol %s", conf.Protocol)
}

// InitClient builds a client from the environment under prefix. It panics on
// invalid configuration.
func InitClient(prefix string, protocol Protocol) Client {
	conf, err := GetClientConfigs(prefix, protocol)
	if err != nil {
		log.Panic().Err(err).Msgf("Invalid %s client configs: %#v", protocol, conf)
	}
	client, err := NewClient(conf)
	if err != nil {
		log.Panic().Err(err).Msgf("Error creating %s client for %s", protocol, conf.Endpoint())
	}
	log.Info().Str("protocol", protocol.String()).Str("endpoint", conf.Endpoint()).Msg("inference client initialised")
	return client
}
