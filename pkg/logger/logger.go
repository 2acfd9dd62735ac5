package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/configs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var applicationName = ""

const logTemplate string = "%s %v [, ] [] %s predator-qa %s\n"

func InitLogger(configs *configs.AppConfigs) {
	applicationName = configs.Configs.ApplicationName
	level, err := ParseLevel(configs.Configs.ApplicationLogLevel)
	if err != nil {
		Panic(err.Error(), nil)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	Info("Logger initialized!")
}

// ParseLevel maps DEBUG..DISABLED to a zerolog level.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "INFO":
		return zerolog.InfoLevel, nil
	case "WARN":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	case "FATAL":
		return zerolog.FatalLevel, nil
	case "PANIC":
		return zerolog.PanicLevel, nil
	case "DISABLED":
		return zerolog.Disabled, nil
	}
	return zerolog.NoLevel, fmt.Errorf("Incorrect log level %s", s)
}

func Info(message string) {
	log.Info().Msgf(logTemplate, applicationName, now(), "INFO", message)
}

func Error(message string, err error) {
	log.Error().AnErr("Error ", err).Msgf(logTemplate, applicationName, now(), "ERROR", message)
}

func Panic(message string, err error) {
	Error(message, err)
	log.Panic().AnErr("Error", err).Msgf(logTemplate, applicationName, now(), "PANIC", message)
}

func now() string {
	return time.Now().Format("02-01-2006 15:04:05.000 -0700")
}
