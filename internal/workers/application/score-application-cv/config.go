// internal/workers/application/score-application-cv/config.go
package scoreapplicationcv

import (
	"time"

	"formation-review/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
	MaxRetries    int
}

// LoadConfig reads workers.score-application-cv. The job timeout never drops
// below the provider timeout so a slow model call is not cut short.
func LoadConfig(appCfg *config.Config) *Config {
	wcfg := config.GetWorkerConfig(appCfg, TaskType)
	cfg := &Config{
		Enabled:       wcfg.Enabled,
		MaxJobsActive: wcfg.MaxJobsActive,
		Timeout:       config.GetDuration(wcfg.Timeout),
		MaxRetries:    wcfg.MaxRetries,
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if provider := config.GetDuration(appCfg.APIs.GenAI.Timeout); provider > cfg.Timeout {
		cfg.Timeout = provider + 10*time.Second
	}
	return cfg
}
