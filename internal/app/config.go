package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/usecase"
)

const envPrefix = "GBFSVALIDATOR_"

type Config struct {
	Addr                 string `koanf:"addr" validate:"required"`
	DBPath               string `koanf:"db_path" validate:"required_if=PersistReports true"`
	DefaultVersion       string `koanf:"default_version" validate:"required,supported_version"`
	LogFormat            string `koanf:"log_format" validate:"oneof=json console"`
	LogLevel             string `koanf:"log_level" validate:"oneof=debug info warn error"`
	WebhookURL           string `koanf:"webhook_url" validate:"omitempty,url"`
	WebhookSecret        string `koanf:"webhook_secret" validate:"required_with=WebhookURL"`
	LoaderTimeoutSeconds int    `koanf:"loader_timeout_seconds" validate:"min=1,max=300"`
	LoaderConcurrency    int    `koanf:"loader_concurrency" validate:"min=1,max=256"`
	LoaderMaxFileMB      int    `koanf:"loader_max_file_mb" validate:"min=1,max=1024"`
	PersistReports       bool   `koanf:"persist_reports"`
}

func defaults() map[string]any {
	return map[string]any{
		"addr":                   ":8080",
		"db_path":                "./gbfsvalidator.sqlite",
		"default_version":        usecase.DefaultVersion,
		"log_format":             "json",
		"log_level":              "info",
		"loader_timeout_seconds": 5,
		"loader_concurrency":     20,
		"loader_max_file_mb":     64,
		"persist_reports":        true,
	}
}

// LoadConfig layers defaults, the optional JSON file at path and
// GBFSVALIDATOR_* environment variables, in that order.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return Config{}, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config after flags have been applied on top of it.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("supported_version", func(fl validator.FieldLevel) bool {
		return isSupportedVersion(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("register validation: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func isSupportedVersion(v string) bool {
	for _, s := range usecase.SupportedVersions() {
		if s == v {
			return true
		}
	}
	return false
}

// envTransform maps GBFSVALIDATOR_DB_PATH to db_path.
func envTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, envPrefix))
}
