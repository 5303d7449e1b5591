package observability

import (
	"strings"

	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/spf13/viper"
)

// OtelConfig selects the OTLP collector. Exporters stay off unless
// OTEL_ENABLED is set, in which case both traces and metrics are shipped.
type OtelConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

type Config struct {
	ServiceName string
	Environment string
	Version     string
	LogLevel    string
	LogFormat   string
	Otel        OtelConfig
}

func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("DEPLOYMENT_ENV", cfg.Environment)
	v.SetDefault("SERVICE_VERSION", cfg.AppVersion)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	v.SetDefault("OTEL_SAMPLING_RATIO", 0.2)

	protocol := v.GetString("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")
	if strings.TrimSpace(protocol) == "" {
		protocol = v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL")
	}

	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "viotraix"
	}

	return Config{
		ServiceName: name,
		Environment: strings.TrimSpace(v.GetString("DEPLOYMENT_ENV")),
		Version:     strings.TrimSpace(v.GetString("SERVICE_VERSION")),
		LogLevel:    lower(v.GetString("LOG_LEVEL")),
		LogFormat:   lower(v.GetString("LOG_FORMAT")),
		Otel: OtelConfig{
			Enabled:       v.GetBool("OTEL_ENABLED"),
			Endpoint:      strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
			Protocol:      lower(protocol),
			SamplingRatio: v.GetFloat64("OTEL_SAMPLING_RATIO"),
		},
	}
}

// Debug reports whether verbose logging is on, either by level or because
// the process runs in a development environment.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
