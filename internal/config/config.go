// Package config loads wins settings from defaults, an optional YAML file,
// an optional .env file and the environment, in that order of precedence
// (later sources win).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "WINS_"

// Config holds every runtime setting.
type Config struct {
	// DBPath is the SQLite file. ":memory:" is accepted for throwaway runs.
	DBPath string `yaml:"db_path" env:"DB_PATH" validate:"required"`

	// Category is used by `add` when --category is not given.
	Category string `yaml:"category" env:"CATEGORY" validate:"required,max=64"`

	// PersistTimeout bounds a single durable insert.
	PersistTimeout time.Duration `yaml:"persist_timeout" env:"PERSIST_TIMEOUT" validate:"gt=0"`

	// Format selects CLI output: text, json or yaml.
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=text json yaml"`

	Verbose bool `yaml:"verbose" env:"VERBOSE"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath:         "wins.db",
		Category:       "general",
		PersistTimeout: 10 * time.Second,
		Format:         "text",
	}
}

// Options controls where Load looks.
type Options struct {
	// File is a YAML config path. Empty skips it; a missing file is an error
	// only when Required is set.
	File     string
	Required bool

	// DotEnv is a .env path loaded into the process environment without
	// overriding variables that are already set. Empty skips it; a missing
	// file is ignored.
	DotEnv string

	// Environ replaces os.Environ for tests. Nil uses the process environment.
	Environ map[string]string
}

// Load resolves the configuration and validates it.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		if err := loadFile(opts.File, opts.Required, &cfg); err != nil {
			return Config{}, err
		}
	}

	if opts.DotEnv != "" {
		if err := godotenv.Load(opts.DotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", opts.DotEnv, err)
		}
	}

	envOpts := env.Options{Prefix: EnvPrefix}
	if opts.Environ != nil {
		envOpts.Environment = opts.Environ
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, required bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks every field and reports all violations at once.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
