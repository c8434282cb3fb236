package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-web/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads the YAML config, expanding ${VAR} references from the
// environment and from a sibling .env file when one exists.
func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.WrapError(err, "file not found: "+configPath)
	}

	dir := filepath.Dir(configPath)
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, nil, types.WrapError(err, "failed to load .env file")
		}
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to read config file")
	}

	config, raw, err := l.LoadFromBytes(data)
	if err != nil {
		return nil, nil, err
	}

	if config.PolicyFile != "" {
		policyPath := config.PolicyFile
		if !filepath.IsAbs(policyPath) {
			policyPath = filepath.Join(dir, policyPath)
		}

		policies, err := l.loadPolicies(ctx, policyPath)
		if err != nil {
			return nil, nil, err
		}
		config.Policies = policies
		raw["policies"] = policies
	}

	return config, raw, nil
}

func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, map[string]interface{}, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	config := l.Defaults()
	if err := yaml.Unmarshal(expanded, config); err != nil {
		return nil, nil, types.WrapError(err, "failed to parse YAML config")
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(expanded, &raw); err != nil {
		return nil, nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.Validate(config); err != nil {
		return nil, nil, err
	}

	return config, raw, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}
	if err := l.validator.Struct(config); err != nil {
		return types.WrapError(err, "config validation failed")
	}
	return nil
}

func (l *Loader) loadPolicies(ctx context.Context, path string) (map[string]interface{}, error) {
	data, err := l.ReadFileWithTimeout(ctx, path)
	if err != nil {
		return nil, types.WrapError(err, "failed to read policies file")
	}

	policies := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &policies); err != nil {
		return nil, types.WrapError(err, "failed to parse policies file")
	}

	return policies, nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:        "sai-web",
		Version:     "1.0.0",
		Environment: "development",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            "localhost",
				Port:            1337,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 5,
			},
			TLS: &types.TLSConfig{
				Enabled: false,
			},
		},
		HTTP: &types.PipelineConfig{
			PoweredBy: "Sai <saiset.co>",
			BodyParser: &types.BodyParserConfig{
				Enabled:       true,
				RetryWithJSON: true,
				MaxBodySize:   10 * 1024 * 1024,
			},
			CookieParser: &types.CookieParserConfig{
				Enabled: true,
			},
			MethodOverride: &types.MethodOverrideConfig{
				Enabled: true,
				Field:   "_method",
			},
			ErrorView: &types.ErrorViewConfig{
				Enabled: false,
				Path:    "500",
			},
			Logging: &types.LoggingConfig{
				Enabled:  true,
				LogLevel: "info",
			},
		},
		Session: &types.SessionConfig{
			CookieName:    "sai.sid",
			MaxAge:        int((24 * time.Hour).Seconds()),
			Store:         "memory",
			SweepSchedule: "@every 1m",
		},
		Controllers: &types.ControllersConfig{
			CSRF: false,
		},
		Paths: &types.PathsConfig{
			Public: ".tmp/public",
			Views:  "views",
		},
		Cache: &types.StaticCacheConfig{
			MaxAge: 31557600,
		},
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Health: &types.HealthConfig{
			Enabled:      true,
			CheckTimeout: 5,
		},
		Metrics: &types.MetricsConfig{
			Enabled:         false,
			Namespace:       "sai_web",
			Path:            "/metrics",
			EnableGoMetrics: true,
		},
	}
}
