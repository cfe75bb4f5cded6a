package config

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/foundation/expiry"
)

// ValidateConfig checks cross-field constraints after defaults were applied.
func ValidateConfig(cfg *Config) error {
	v := &configurationValidator{config: cfg}
	v.validateArtifacts()
	v.validateEvents()
	v.validateDaemon()
	if len(v.problems) == 0 {
		return nil
	}
	return errors.ConfigError("configuration validation failed: "+strings.Join(v.problems, "; ")).
		WithContext("problems", v.problems).Build()
}

type configurationValidator struct {
	config   *Config
	problems []string
}

func (cv *configurationValidator) addf(format string, args ...any) {
	cv.problems = append(cv.problems, fmt.Sprintf(format, args...))
}

func (cv *configurationValidator) validateArtifacts() {
	a := cv.config.Artifacts
	if _, err := expiry.Parse(a.DefaultExpireIn); err != nil {
		cv.addf("artifacts.default_expire_in: %v", err)
	}
	if a.Backend == StorageMinIO {
		if a.MinIO.Endpoint == "" {
			cv.addf("artifacts.minio.endpoint is required for the minio backend")
		}
		if a.MinIO.AccessKey == "" || a.MinIO.SecretKey == "" {
			cv.addf("artifacts.minio.access_key and secret_key are required for the minio backend")
		}
	}
}

func (cv *configurationValidator) validateEvents() {
	if cv.config.Events.Driver == EventsPostgres && cv.config.Events.DSN == "" {
		cv.addf("events.dsn is required for the postgres driver")
	}
}

func (cv *configurationValidator) validateDaemon() {
	seen := make(map[string]struct{})
	for i, s := range cv.config.Daemon.Schedules {
		if s.Name == "" {
			cv.addf("daemon.schedules[%d]: name is required", i)
		} else if _, dup := seen[s.Name]; dup {
			cv.addf("daemon.schedules[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}
		if len(strings.Fields(s.Cron)) != 5 {
			cv.addf("daemon.schedules[%d]: cron %q must have 5 fields", i, s.Cron)
		}
	}
}
