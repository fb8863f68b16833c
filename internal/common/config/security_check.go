package config

import "go.uber.org/zap"

// ProductionWarnings returns the list of insecure settings detected for a
// production deployment.
func (c *Config) ProductionWarnings() []string {
	var warnings []string
	if c.StoreBackend == "memory" {
		warnings = append(warnings, "store_backend is memory: all profiles are lost on restart and nothing is shared across replicas")
	}
	if c.CORSAllowedOrigins == "*" {
		warnings = append(warnings, "cors_allowed_origins is *: restrict to the SDK origins")
	}
	if !c.EnableRateLimit {
		warnings = append(warnings, "rate limiting is disabled")
	}
	return warnings
}

// LogSecurityWarnings emits one warning per insecure setting at startup.
// It is a no-op outside production so local runs stay quiet.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()
	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}
	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}
