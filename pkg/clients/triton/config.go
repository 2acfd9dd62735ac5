package triton

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/viper"
)

const (
	HTTPPrefix = "PREDATOR_QA_HTTP_"
	GRPCPrefix = "PREDATOR_QA_GRPC_"

	DefaultHTTPPort   = "8000"
	DefaultGRPCPort   = "8001"
	DefaultDeadlineMS = 30_000
	DefaultPlainText  = true
)

type Config struct {
	Host       string
	Port       string
	Protocol   Protocol
	DeadlineMS int
	PlainText  bool
	// JSON sends HTTP tensors as JSON data instead of binary-tensor blobs.
	JSON bool
}

// GetClientConfigs reads <prefix>HOST, PORT, DEADLINE_MS, PLAINTEXT and JSON from viper.
func GetClientConfigs(prefix string, protocol Protocol) (*Config, error) {
	if !viper.IsSet(prefix + "HOST") {
		return nil, fmt.Errorf("%sHOST not set", prefix)
	}
	conf := &Config{
		Host:       viper.GetString(prefix + "HOST"),
		Port:       DefaultGRPCPort,
		Protocol:   protocol,
		DeadlineMS: DefaultDeadlineMS,
		PlainText:  DefaultPlainText,
	}
	if protocol == ProtocolHTTP {
		conf.Port = DefaultHTTPPort
	}
	if viper.IsSet(prefix + "PORT") {
		conf.Port = viper.GetString(prefix + "PORT")
	}
	if viper.IsSet(prefix + "DEADLINE_MS") {
		conf.DeadlineMS = viper.GetInt(prefix + "DEADLINE_MS")
	}
	if viper.IsSet(prefix + "PLAINTEXT") {
		conf.PlainText = viper.GetBool(prefix + "PLAINTEXT")
	}
	if viper.IsSet(prefix + "JSON") {
		conf.JSON = viper.GetBool(prefix + "JSON")
	}
	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration is nil")
	}
	if len(c.Host) == 0 {
		return errors.New("host is empty")
	}
	if len(c.Port) == 0 {
		return errors.New("port is empty")
	}
	if c.DeadlineMS <= 0 {
		return fmt.Errorf("deadline must be positive, got %dms", c.DeadlineMS)
	}
	switch c.Protocol {
	case ProtocolHTTP, ProtocolGRPC, ProtocolGRPCStream:
	default:
		return fmt.Errorf("unsupported protocol %s", c.Protocol)
	}
	if c.JSON && c.Protocol != ProtocolHTTP {
		return fmt.Errorf("JSON encoding is only available over http, not %s", c.Protocol)
	}
	return nil
}

func (c *Config) Endpoint() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) Deadline() time.Duration {
	return time.Duration(c.DeadlineMS) * time.Millisecond
}
