package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the entrypoint used by cmd/aqualens. It returns an error instead of
// calling os.Exit so defers run.
func Run() error {
	loaded, err := LoadDotEnv(EnvString("AQUALENS_ENV_FILE", ".env"))
	if err != nil {
		return err
	}

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if loaded {
		log.Debug("config.dotenv.loaded")
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
