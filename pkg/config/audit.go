package config

// AuditConfig controls the audit trail.
type AuditConfig struct {
	// Chain links every entry to its predecessor by hash. Unset means
	// enabled.
	Chain *bool `yaml:"chain"`

	// Masking runs entry details through the secret redactor before
	// storage. Unset means enabled.
	Masking *bool `yaml:"masking"`
}

// DefaultAuditConfig returns the built-in audit defaults.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{}
}

// ChainEnabled reports whether hash chaining is on.
func (c *AuditConfig) ChainEnabled() bool {
	return c.Chain == nil || *c.Chain
}

// MaskingEnabled reports whether secret redaction is on.
func (c *AuditConfig) MaskingEnabled() bool {
	return c.Masking == nil || *c.Masking
}
