package verify

import "fmt"

// ConfigError is a verification that cannot run as configured. It is reported
// before any request is sent.
type ConfigError struct {
	ErrorMsg string
}

func (e *ConfigError) Error() string {
	return e.ErrorMsg
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{ErrorMsg: fmt.Sprintf(format, args...)}
}
