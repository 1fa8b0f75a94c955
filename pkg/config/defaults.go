package config

// applyDefaults fills every zero-valued tunable with the spec-declared
// default (spec §6.4 default list) before validation runs, so an operator
// only needs to write the fields they want to override.
func applyDefaults(c *Config) {
	if c.Listen.HTTP.Port == 0 {
		c.Listen.HTTP.Port = 8080
	}
	if c.Listen.WS.Path == "" {
		c.Listen.WS.Path = "/ws"
	}
	if c.Store.Session.TTLSeconds == 0 {
		c.Store.Session.TTLSeconds = 3600
	}
	if c.Store.Auth.TTLSeconds == 0 {
		c.Store.Auth.TTLSeconds = 604800
	}
	if c.Engine.AutoAdvanceMax == 0 {
		c.Engine.AutoAdvanceMax = 25
	}
	if c.Engine.TurnBudgetMs == 0 {
		c.Engine.TurnBudgetMs = 45000
	}
	if c.Engine.DedupWindowMs == 0 {
		c.Engine.DedupWindowMs = 5000
	}
	if c.Engine.PerSessionLockWaitMs == 0 {
		c.Engine.PerSessionLockWaitMs = 10000
	}
	if c.NLU.ConfidenceThreshold == 0 {
		c.NLU.ConfidenceThreshold = 0.65
	}
	if c.Router.TriggerThreshold == 0 {
		c.Router.TriggerThreshold = 0.6
	}
}
