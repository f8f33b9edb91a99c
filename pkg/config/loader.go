package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Load reads the dotenv files then populates the Config from the environment.
// ENV_FILE lists comma separated files to read instead of .env; missing files are skipped.
func Load() (*Config, error) {
	files := []string{".env"}
	if v := os.Getenv("ENV_FILE"); v != "" {
		files = strings.Split(v, ",")
	}
	for _, f := range files {
		f = strings.TrimSpace(f)
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Host.Concurrency < 1:
		return fmt.Errorf("HOST_BATCH_SIZE must be at least 1, got %d", c.Host.Concurrency)
	case c.Host.MaxDequeueCount < 1:
		return fmt.Errorf("HOST_MAX_DEQUEUE_COUNT must be at least 1, got %d", c.Host.MaxDequeueCount)
	case c.Host.FunctionTimeout <= 0:
		return fmt.Errorf("HOST_FUNCTION_TIMEOUT must be positive, got %s", c.Host.FunctionTimeout)
	case c.Host.VisibilityTimeout < time.Second:
		return fmt.Errorf("HOST_VISIBILITY_TIMEOUT must be at least 1s, got %s", c.Host.VisibilityTimeout)
	}
	return nil
}
