package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Catalog     CatalogConfig   `yaml:"catalog"`
	Orders      OrdersConfig    `yaml:"orders"`
	Journal     JournalConfig   `yaml:"journal"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Agent       AgentConfig     `yaml:"agent"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string   `yaml:"id"`
	Role              string   `yaml:"role"`
	Features          []string `yaml:"features"`
	HeartbeatInterval int      `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int      `yaml:"heartbeat_timeout_ms"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type OrdersConfig struct {
	Dir string `yaml:"dir"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SynthesisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Mode     string `yaml:"mode"` // mock, exec, murf
	Command  string `yaml:"command"`
	Endpoint string `yaml:"endpoint"`
	// APIKey is read from MURF_API_KEY only; it never lives in the yaml file.
	APIKey           string  `yaml:"-"`
	Voice            string  `yaml:"voice"`
	Style            string  `yaml:"style"`
	Format           string  `yaml:"format"`
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	Speed            float64 `yaml:"speed"`
	Pitch            float64 `yaml:"pitch"`
	RequestTimeoutMS int     `yaml:"request_timeout_ms"`
}

type AgentConfig struct {
	Enabled              bool   `yaml:"enabled"`
	DefaultVoice         string `yaml:"default_voice"`
	DefaultStyle         string `yaml:"default_style"`
	Target               string `yaml:"target"`
	SpeakReplies         bool   `yaml:"speak_replies"`
	SessionIdleTimeoutMS int    `yaml:"session_idle_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "voicecart-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "voicecart-node-1",
			Role:              "core",
			Features:          []string{"commerce.session", "synth.bridge"},
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Catalog: CatalogConfig{
			Path: "./data/catalog.json",
		},
		Orders: OrdersConfig{
			Dir: "./data/orders",
		},
		Journal: JournalConfig{
			Path:          "./data/voicecart-journal.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Synthesis: SynthesisConfig{
			Enabled:          true,
			Mode:             "mock",
			Endpoint:         "https://api.murf.ai",
			Voice:            "en-US-ryan",
			Style:            "Conversational",
			Format:           "WAV",
			SampleRate:       24000,
			Channels:         1,
			Speed:            1.0,
			Pitch:            0,
			RequestTimeoutMS: 30000,
		},
		Agent: AgentConfig{
			Enabled:              true,
			DefaultVoice:         "en-US-ryan",
			DefaultStyle:         "Conversational",
			Target:               "default",
			SpeakReplies:         true,
			SessionIdleTimeoutMS: 600000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOICECART_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOICECART_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICECART_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICECART_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICECART_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICECART_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICECART_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "VOICECART_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICECART_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOICECART_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOICECART_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICECART_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICECART_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICECART_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICECART_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICECART_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "VOICECART_NODE_ID")
	overrideString(&cfg.Node.Role, "VOICECART_NODE_ROLE")
	overrideStringSlice(&cfg.Node.Features, "VOICECART_NODE_FEATURES")
	overrideInt(&cfg.Node.HeartbeatInterval, "VOICECART_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "VOICECART_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Catalog.Path, "VOICECART_CATALOG_PATH")
	overrideString(&cfg.Orders.Dir, "VOICECART_ORDERS_DIR")
	overrideString(&cfg.Journal.Path, "VOICECART_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "VOICECART_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "VOICECART_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "VOICECART_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "VOICECART_JOURNAL_VACUUM_ON_START")
	overrideBool(&cfg.Synthesis.Enabled, "VOICECART_SYNTHESIS_ENABLED")
	overrideString(&cfg.Synthesis.Mode, "VOICECART_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Command, "VOICECART_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.Endpoint, "VOICECART_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.Voice, "VOICECART_SYNTHESIS_VOICE")
	overrideString(&cfg.Synthesis.Style, "VOICECART_SYNTHESIS_STYLE")
	overrideInt(&cfg.Synthesis.SampleRate, "VOICECART_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Channels, "VOICECART_SYNTHESIS_CHANNELS")
	overrideFloat(&cfg.Synthesis.Speed, "VOICECART_SYNTHESIS_SPEED")
	overrideFloat(&cfg.Synthesis.Pitch, "VOICECART_SYNTHESIS_PITCH")
	overrideInt(&cfg.Synthesis.RequestTimeoutMS, "VOICECART_SYNTHESIS_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Synthesis.APIKey, "MURF_API_KEY")
	overrideBool(&cfg.Agent.Enabled, "VOICECART_AGENT_ENABLED")
	overrideString(&cfg.Agent.DefaultVoice, "VOICECART_AGENT_DEFAULT_VOICE")
	overrideString(&cfg.Agent.DefaultStyle, "VOICECART_AGENT_DEFAULT_STYLE")
	overrideString(&cfg.Agent.Target, "VOICECART_AGENT_TARGET")
	overrideBool(&cfg.Agent.SpeakReplies, "VOICECART_AGENT_SPEAK_REPLIES")
	overrideInt(&cfg.Agent.SessionIdleTimeoutMS, "VOICECART_AGENT_SESSION_IDLE_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.Orders.Dir == "" {
		return errors.New("orders.dir must not be empty")
	}
	if cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Synthesis.Enabled {
		switch cfg.Synthesis.Mode {
		case "mock", "exec", "murf":
		default:
			return errors.New("synthesis.mode must be one of mock|exec|murf")
		}
		if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
			return errors.New("synthesis.command must be set when mode=exec")
		}
		if cfg.Synthesis.Mode == "murf" {
			if cfg.Synthesis.Endpoint == "" {
				return errors.New("synthesis.endpoint must be set when mode=murf")
			}
			if cfg.Synthesis.APIKey == "" {
				return errors.New("MURF_API_KEY must be set when synthesis.mode=murf")
			}
		}
		if cfg.Synthesis.SampleRate <= 0 {
			return errors.New("synthesis.sample_rate must be positive")
		}
		if cfg.Synthesis.Channels <= 0 {
			return errors.New("synthesis.channels must be positive")
		}
		if cfg.Synthesis.RequestTimeoutMS <= 0 {
			return errors.New("synthesis.request_timeout_ms must be positive")
		}
	}
	if cfg.Agent.Enabled {
		if cfg.Agent.SessionIdleTimeoutMS <= 0 {
			return errors.New("agent.session_idle_timeout_ms must be positive")
		}
	}
	return nil
}
