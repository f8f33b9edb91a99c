package console

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
	"github.com/mostefaiamine-25/aspire-functions/pkg/telemetry"
)

// FunctionRegistrar registers queue triggered functions once logging is configured
type FunctionRegistrar func(registry *queue.Registry, logger zerolog.Logger)

var registrars []FunctionRegistrar

// SetFunctions sets the functions hosted by the functions:start command
func SetFunctions(fns ...FunctionRegistrar) {
	registrars = fns
}

func registerFunctions(registry *queue.Registry, logger zerolog.Logger) {
	for _, register := range registrars {
		register(registry, logger)
	}
}

// loadConfig reads the configuration and configures the global logger
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	telemetry.SetGlobalLogger(cfg.Log)
	return cfg
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func httpAddress(cfg config.HTTPConfig) string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}
