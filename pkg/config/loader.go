// Package config provides configuration loading and validation utilities.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	if err := loadEnvFiles(".env.local", ".env"); err != nil {
		return nil, nil, err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFile(fmt.Sprintf("./configs/%s.yaml", env), env)
}

// loadEnvFiles applies each dotenv file in order. Missing files are skipped;
// earlier files win because godotenv never overrides a variable already set.
func loadEnvFiles(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}

	return nil
}

// LoadFile reads a single YAML file on top of Default and applies env overrides.
func LoadFile(path, env string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppEnv = env

	if err := Validate(&cfg); err != nil {
		return nil, nil, err
	}

	return &cfg, v, nil
}

// Validate checks struct tags on cfg.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	return nil
}

// setDefaults registers keys that must be overridable from the environment
// even when the YAML file omits them.
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("logger.level", def.Logger.Level)
	v.SetDefault("logger.format", def.Logger.Format)
	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.password", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("push.telegram.token", "")
	v.SetDefault("push.slack.url", "")
	v.SetDefault("push.whatsapp.token", "")
	v.SetDefault("push.wechat.url", "")
	v.SetDefault("push.email.password", "")
	v.SetDefault("payment.currency", def.Payment.Currency)
	v.SetDefault("templates.dir", def.Templates.Dir)
	v.SetDefault("templates.default_lang", def.Templates.DefaultLang)
}
