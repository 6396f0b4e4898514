// Package config defines the orchestrator configuration: hub
// connection, durable stores, routing and dispatch tuning, scheduler
// cadences, and the built-in agent seed set.
//
// Configuration is YAML with ${ENV} expansion. Defaults are applied
// with SetDefaults before validation.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Hub           HubConfig            `yaml:"hub"`
	Mongo         MongoConfig          `yaml:"mongo"`
	Redis         RedisConfig          `yaml:"redis"`
	Router        RouterConfig         `yaml:"router"`
	Dispatch      DispatchConfig       `yaml:"dispatch"`
	Cache         CacheConfig          `yaml:"cache"`
	Session       SessionConfig        `yaml:"session"`
	Scheduler     SchedulerConfig      `yaml:"scheduler"`
	Logging       LoggingConfig        `yaml:"logging"`
	Observability ObservabilityConfig  `yaml:"observability"`
	Providers     []ProviderSeedConfig `yaml:"providers"`
	ToolServers   []ToolServerConfig   `yaml:"tool_servers"`
	Agents        []AgentSeedConfig    `yaml:"agents"`
}

// ServerConfig configures the inbound A2A HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// HubConfig configures the outbound home-automation hub client.
type HubConfig struct {
	BaseURL            string `yaml:"base_url"`
	Token              string `yaml:"token"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

// MongoConfig configures the durable document store.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig configures the key-value store backing the caches.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RouterConfig tunes the routing LLM call.
type RouterConfig struct {
	ConfidenceThreshold  float64       `yaml:"confidence_threshold"`
	MaxAttempts          int           `yaml:"max_attempts"`
	Timeout              time.Duration `yaml:"timeout"`
	Temperature          float64       `yaml:"temperature"`
	MaxExamplesPerAgent  int           `yaml:"max_examples_per_agent"`
	FallbackAgentID      string        `yaml:"fallback_agent_id"`
	ClarificationAgentID string        `yaml:"clarification_agent_id"`
}

// DispatchConfig tunes per-agent invocation.
type DispatchConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	FallbackReply  string        `yaml:"fallback_reply"`
}

// CacheConfig tunes the routing and response caches.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// SessionConfig tunes the session cache.
type SessionConfig struct {
	IdleTTL     time.Duration `yaml:"idle_ttl"`
	MaxTurns    int           `yaml:"max_turns"`
	UseRedis    bool          `yaml:"use_redis"`
	KeyPrefix   string        `yaml:"key_prefix"`
	ContextTTL  time.Duration `yaml:"context_ttl"`
	StickyAgent bool          `yaml:"sticky_agent"`
}

// SchedulerConfig tunes the scheduled-task engine.
type SchedulerConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxRecoveryAge time.Duration `yaml:"max_recovery_age"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig groups tracing and metrics settings.
type ObservabilityConfig struct {
	TracerEnabled  bool    `yaml:"tracer_enabled"`
	TracerExporter string  `yaml:"tracer_exporter"`
	TracerEndpoint string  `yaml:"tracer_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

// ProviderSeedConfig seeds a model provider record on first start.
type ProviderSeedConfig struct {
	ID                    string `yaml:"id"`
	Type                  string `yaml:"type"` // openai, azure_openai, azure_inference, ollama, agent
	Purpose               string `yaml:"purpose"`
	Endpoint              string `yaml:"endpoint"`
	ModelName             string `yaml:"model_name"`
	APIKey                string `yaml:"api_key"`
	UseDefaultCredentials bool   `yaml:"use_default_credentials"`
	Enabled               *bool  `yaml:"enabled"`
}

// ToolServerConfig seeds a tool-server record on first start.
type ToolServerConfig struct {
	ID        string            `yaml:"id"`
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // stdio, http, sse
	URL       string            `yaml:"url"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	Headers   map[string]string `yaml:"headers"`
	Enabled   *bool             `yaml:"enabled"`
}

// AgentSeedConfig seeds a built-in agent definition.
type AgentSeedConfig struct {
	ID                  string          `yaml:"id"`
	DisplayName         string          `yaml:"display_name"`
	Description         string          `yaml:"description"`
	Instructions        string          `yaml:"instructions"`
	ModelConnectionName string          `yaml:"model_connection"`
	Tools               []ToolRefConfig `yaml:"tools"`
	IsOrchestrator      bool            `yaml:"is_orchestrator"`
	IsRemote            bool            `yaml:"is_remote"`
	RemoteURL           string          `yaml:"remote_url"`
	Skills              []SkillConfig   `yaml:"skills"`
}

// ToolRefConfig references one tool on one server.
type ToolRefConfig struct {
	ServerID string `yaml:"server_id"`
	ToolName string `yaml:"tool_name"`
}

// SkillConfig declares one skill for the agent card.
type SkillConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Examples    []string `yaml:"examples"`
}

// SetDefaults fills unset fields with production defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Hub.TimeoutSeconds == 0 {
		c.Hub.TimeoutSeconds = 10
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "lucia"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Router.ConfidenceThreshold == 0 {
		c.Router.ConfidenceThreshold = 0.7
	}
	if c.Router.MaxAttempts == 0 {
		c.Router.MaxAttempts = 3
	}
	if c.Router.Timeout == 0 {
		c.Router.Timeout = 5 * time.Second
	}
	if c.Router.Temperature == 0 {
		c.Router.Temperature = 0.3
	}
	if c.Router.MaxExamplesPerAgent == 0 {
		c.Router.MaxExamplesPerAgent = 3
	}
	if c.Router.FallbackAgentID == "" {
		c.Router.FallbackAgentID = "general-assistant"
	}
	if c.Router.ClarificationAgentID == "" {
		c.Router.ClarificationAgentID = "general-assistant"
	}
	if c.Dispatch.DefaultTimeout == 0 {
		c.Dispatch.DefaultTimeout = 30 * time.Second
	}
	if c.Dispatch.MaxRetries == 0 {
		c.Dispatch.MaxRetries = 2
	}
	if c.Dispatch.RetryDelay == 0 {
		c.Dispatch.RetryDelay = time.Second
	}
	if c.Dispatch.FallbackReply == "" {
		c.Dispatch.FallbackReply = "Sorry, I wasn't able to complete that request."
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 1000
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 24 * time.Hour
	}
	if c.Session.IdleTTL == 0 {
		c.Session.IdleTTL = 30 * time.Minute
	}
	if c.Session.MaxTurns == 0 {
		c.Session.MaxTurns = 20
	}
	if c.Session.KeyPrefix == "" {
		c.Session.KeyPrefix = "lucia"
	}
	if c.Session.ContextTTL == 0 {
		c.Session.ContextTTL = 24 * time.Hour
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = time.Second
	}
	if c.Scheduler.MaxRecoveryAge == 0 {
		c.Scheduler.MaxRecoveryAge = 30 * time.Minute
	}
	if c.Scheduler.ShutdownGrace == 0 {
		c.Scheduler.ShutdownGrace = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Observability.SamplingRate == 0 {
		c.Observability.SamplingRate = 1.0
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Hub.BaseURL == "" {
		return fmt.Errorf("hub.base_url is required")
	}
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if c.Router.ConfidenceThreshold < 0 || c.Router.ConfidenceThreshold > 1 {
		return fmt.Errorf("router.confidence_threshold must be within [0,1], got %v", c.Router.ConfidenceThreshold)
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent seed with empty id")
		}
		if a.Description == "" {
			return fmt.Errorf("agent %q: description is required (it feeds the router catalog)", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent seed id %q", a.ID)
		}
		seen[a.ID] = true
		if a.IsRemote && a.RemoteURL == "" {
			return fmt.Errorf("agent %q: remote agents require remote_url", a.ID)
		}
	}
	for _, ts := range c.ToolServers {
		switch ts.Transport {
		case "stdio":
			if ts.Command == "" {
				return fmt.Errorf("tool server %q: stdio transport requires command", ts.ID)
			}
		case "http", "sse":
			if ts.URL == "" {
				return fmt.Errorf("tool server %q: %s transport requires url", ts.ID, ts.Transport)
			}
		default:
			return fmt.Errorf("tool server %q: unknown transport %q", ts.ID, ts.Transport)
		}
	}
	return nil
}
