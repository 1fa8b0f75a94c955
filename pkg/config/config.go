// Package config is the boot-time configuration struct the orchestrator
// binary loads once at startup (spec §6.4: "Configuration is a struct
// loaded at boot, not environment-name-keyed accessors scattered through
// code"). Every tunable the engine and executors need is a field here,
// and no code under pkg/ calls os.Getenv directly. cmd/orchestrator reads
// its config path, flow directory, gin mode and channel send endpoints
// from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full set of recognized boot options (spec §6.4).
type Config struct {
	Listen   ListenConfig              `yaml:"listen"`
	Store    StoreConfig               `yaml:"store"`
	Engine   EngineConfig              `yaml:"engine"`
	NLU      NLUConfig                 `yaml:"nlu"`
	Router   RouterConfig              `yaml:"router"`
	Executor map[string]ExecutorConfig `yaml:"executor"`
	Services ServicesConfig            `yaml:"services"`
	Database DatabaseConfig            `yaml:"database"`
}

// ListenConfig is the `listen.*` block (spec §6.4 "listen.http.port,
// listen.ws.path").
type ListenConfig struct {
	HTTP HTTPListenConfig `yaml:"http"`
	WS   WSListenConfig   `yaml:"ws"`
}

// HTTPListenConfig configures the HTTP server's bind port.
type HTTPListenConfig struct {
	Port int `yaml:"port" validate:"required,min=1,max=65535"`
}

// WSListenConfig configures the WebSocket upgrade path.
type WSListenConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// StoreConfig is the `store.*` block (spec §6.4 "store.session.ttlSeconds
// ..., store.auth.ttlSeconds ...").
type StoreConfig struct {
	Session SessionStoreConfig `yaml:"session"`
	Auth    AuthStoreConfig    `yaml:"auth"`
}

// SessionStoreConfig holds the session TTL, default 3600s (spec §6.4).
type SessionStoreConfig struct {
	TTLSeconds int `yaml:"ttlSeconds" validate:"min=1"`
}

// TTL returns the configured session idle TTL as a time.Duration.
func (s SessionStoreConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// AuthStoreConfig holds the centralized-auth-record TTL, default 604800s
// / 7 days (spec §6.4).
type AuthStoreConfig struct {
	TTLSeconds int `yaml:"ttlSeconds" validate:"min=1"`
}

// TTL returns the configured authenticated-user record TTL.
func (a AuthStoreConfig) TTL() time.Duration {
	return time.Duration(a.TTLSeconds) * time.Second
}

// EngineConfig is the `engine.*` block (spec §6.4).
type EngineConfig struct {
	AutoAdvanceMax       int `yaml:"autoAdvanceMax" validate:"min=1"`
	TurnBudgetMs         int `yaml:"turnBudgetMs" validate:"min=1"`
	DedupWindowMs        int `yaml:"dedupWindowMs" validate:"min=1"`
	PerSessionLockWaitMs int `yaml:"perSessionLockWaitMs" validate:"min=1"`
}

// TurnBudget returns the per-turn wall-clock budget as a Duration.
func (e EngineConfig) TurnBudget() time.Duration { return time.Duration(e.TurnBudgetMs) * time.Millisecond }

// DedupWindow returns the dedup tolerance window as a Duration.
func (e EngineConfig) DedupWindow() time.Duration { return time.Duration(e.DedupWindowMs) * time.Millisecond }

// LockWait returns the per-session bounded lock wait as a Duration.
func (e EngineConfig) LockWait() time.Duration {
	return time.Duration(e.PerSessionLockWaitMs) * time.Millisecond
}

// NLUConfig is the `nlu.*` block (spec §6.4 "nlu.confidenceThreshold
// (default 0.65)").
type NLUConfig struct {
	ConfidenceThreshold float64 `yaml:"confidenceThreshold" validate:"min=0,max=1"`
}

// RouterConfig is the `router.*` block (spec §6.4 "router.triggerThreshold
// (default 0.6)").
type RouterConfig struct {
	TriggerThreshold float64 `yaml:"triggerThreshold" validate:"min=0,max=1"`
}

// ExecutorConfig is one `executor.<name>.*` block (spec §6.4
// "executor.<name>.timeoutMs, executor.<name>.retries").
type ExecutorConfig struct {
	TimeoutMs int `yaml:"timeoutMs" validate:"min=1"`
	Retries   int `yaml:"retries" validate:"min=0"`
}

// Timeout returns the configured per-invocation timeout as a Duration.
func (e ExecutorConfig) Timeout() time.Duration { return time.Duration(e.TimeoutMs) * time.Millisecond }

// ServiceEndpoint is one `services.<name>.*` block (spec §6.4 "RPC
// endpoints: services.{nlu, llm, search, routing, zone, pricing, order,
// auth}.url plus per-service credentials").
type ServiceEndpoint struct {
	URL         string `yaml:"url" validate:"required,url"`
	Credentials string `yaml:"credentials,omitempty"`
}

// ServicesConfig groups every remote RPC endpoint the core calls through
// a narrow client interface (spec §6.2).
type ServicesConfig struct {
	NLU     ServiceEndpoint   `yaml:"nlu" validate:"required"`
	LLM     []ServiceEndpoint `yaml:"llm" validate:"required,min=1,dive"`
	Search  ServiceEndpoint   `yaml:"search" validate:"required"`
	Routing ServiceEndpoint   `yaml:"routing" validate:"required"`
	Zone    ServiceEndpoint   `yaml:"zone" validate:"required"`
	Pricing ServiceEndpoint   `yaml:"pricing" validate:"required"`
	Order   ServiceEndpoint   `yaml:"order" validate:"required"`
	Auth    ServiceEndpoint   `yaml:"auth" validate:"required"`
	PHPAPI  ServiceEndpoint   `yaml:"phpApi" validate:"required"`
	Places  ServiceEndpoint   `yaml:"places"`
	ASR     ServiceEndpoint   `yaml:"asr"`
}

// DatabaseConfig configures the durable Postgres store backing flow
// definitions and flow runs (spec §6.3), and the Redis backing sessions
// and auth records once a deployment needs more than one process.
type DatabaseConfig struct {
	PostgresDSN string `yaml:"postgresDsn" validate:"required"`
	RedisAddr   string `yaml:"redisAddr"`
}

var structValidator = validator.New()

// Validate runs struct-tag validation over the fully loaded config (same
// go-playground/validator instance style as pkg/flowdef's flow
// validation).
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Store.Session.TTLSeconds > 0 && c.Store.Auth.TTLSeconds > 0 &&
		c.Store.Session.TTLSeconds > c.Store.Auth.TTLSeconds {
		return fmt.Errorf("config validation failed: store.session.ttlSeconds (%d) exceeds store.auth.ttlSeconds (%d)",
			c.Store.Session.TTLSeconds, c.Store.Auth.TTLSeconds)
	}
	return nil
}

// ExecutorTimeout returns the configured timeout for name, or fallback if
// no override is declared.
func (c *Config) ExecutorTimeout(name string, fallback time.Duration) time.Duration {
	if ec, ok := c.Executor[name]; ok && ec.TimeoutMs > 0 {
		return ec.Timeout()
	}
	return fallback
}

// ExecutorRetries returns the configured retry count for name, or
// fallback if no override is declared.
func (c *Config) ExecutorRetries(name string, fallback int) int {
	if ec, ok := c.Executor[name]; ok {
		return ec.Retries
	}
	return fallback
}
