package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ServerConfig is the process environment configuration. Everything that is
// admin-mutable at runtime (like the day transition hour) lives in the
// persisted state instead.
type ServerConfig struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port int    `envconfig:"PORT" default:"8000"`

	// StateFile is the JSON snapshot the scheduler persists to.
	StateFile string `envconfig:"STATE_FILE" default:"data/state.json"`

	// GPUMonitorToken authenticates the monitoring daemon's telemetry
	// pushes. Telemetry is rejected while unset.
	GPUMonitorToken string `envconfig:"GPU_MONITOR_TOKEN"`

	// ForceReset wipes all day data on boot and rebuilds the calendar.
	ForceReset bool `envconfig:"FORCE_RESET" default:"false"`

	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"12h"`

	// BulkReleaseRefundCredits is the flat per-slot stipend paid by the
	// bulk release path. Single-slot release refunds 50% of the price
	// instead.
	BulkReleaseRefundCredits float64 `envconfig:"BULK_RELEASE_REFUND_CREDITS" default:"0.34"`

	// JanitorInterval is how often the background tick re-runs the system
	// state update when no requests are arriving.
	JanitorInterval time.Duration `envconfig:"JANITOR_INTERVAL" default:"1m"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}
