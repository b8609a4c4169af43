package config

// ComplianceConfig tunes the rule engine's containment trigger.
type ComplianceConfig struct {
	// CriticalThreshold is the number of critical violations among the
	// last ten that, once exceeded, triggers containment.
	CriticalThreshold int `yaml:"critical_threshold"`
}

// DefaultComplianceConfig returns the built-in compliance defaults.
func DefaultComplianceConfig() *ComplianceConfig {
	return &ComplianceConfig{
		CriticalThreshold: 2,
	}
}
