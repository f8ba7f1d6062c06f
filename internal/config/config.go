package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Duration is a time.Duration that reads and writes as "30s" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Bare numbers are seconds.
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(n * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	DataDir   string `json:"data_dir"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	LLM       struct {
		BaseURL       string `json:"base_url"`
		APIKey        string `json:"api_key"`
		Model         string `json:"model"`
		AssistantID   string `json:"assistant_id"`
		Instructions  string `json:"instructions"`
		TemplatePath  string `json:"template_path"`
		MaxToolTokens int    `json:"max_tool_tokens"`
	} `json:"llm"`
	Gateway struct {
		MaxConnections        int      `json:"max_connections"`
		CacheTTL              Duration `json:"cache_ttl"`
		CacheCapacity         int      `json:"cache_capacity"`
		BreakerThreshold      int      `json:"breaker_threshold"`
		BreakerOpenTimeout    Duration `json:"breaker_open_timeout"`
		BreakerHalfOpenTrials int      `json:"breaker_half_open_trials"`
		MaxAttempts           int      `json:"max_attempts"`
		RetryBaseDelay        Duration `json:"retry_base_delay"`
		PollInterval          Duration `json:"poll_interval"`
		MaxPolls              int      `json:"max_polls"`
		MaxToolRounds         int      `json:"max_tool_rounds"`
		ToolTimeout           Duration `json:"tool_timeout"`
		TurnTimeout           Duration `json:"turn_timeout"`
	} `json:"gateway"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Catalog struct {
		// Path is the SQLite database; empty means <data_dir>/shop.db.
		Path string `json:"path"`
	} `json:"catalog"`
	Maintenance struct {
		Schedule      string `json:"schedule"`
		StatsSchedule string `json:"stats_schedule"`
	} `json:"maintenance"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	cfg := &Config{
		DataDir:   filepath.Join(os.Getenv("HOME"), ".shopline"),
		LogLevel:  "info",
		LogFormat: "text",
	}
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxToolTokens = 2000

	g := &cfg.Gateway
	g.MaxConnections = 50
	g.CacheTTL = Duration(5 * time.Minute)
	g.CacheCapacity = 1000
	g.BreakerThreshold = 3
	g.BreakerOpenTimeout = Duration(30 * time.Second)
	g.BreakerHalfOpenTrials = 2
	g.MaxAttempts = 5
	g.RetryBaseDelay = Duration(time.Second)
	g.PollInterval = Duration(time.Second)
	g.MaxPolls = 60
	g.MaxToolRounds = 5
	g.ToolTimeout = Duration(5 * time.Second)
	g.TurnTimeout = Duration(3 * time.Minute)

	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8080"
	cfg.Maintenance.Schedule = "@every 1m"
	cfg.Maintenance.StatsSchedule = "@every 5m"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if assistant := os.Getenv("OPENAI_ASSISTANT_ID"); assistant != "" {
		cfg.LLM.AssistantID = assistant
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if dataDir := os.Getenv("SHOPLINE_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// CatalogPath returns the SQLite database path.
func (c *Config) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.DataDir, "shop.db")
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every setting as a dot-keyed map, optionally with
// secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, fmt.Errorf("convert config: %w", err)
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value stored under a dot-separated key. The file is
// created with defaults when missing.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	// Keys outside the struct survive in the raw file.
	if raw, err := readRaw(path); err == nil {
		for k, v := range Flatten(raw) {
			if _, ok := flat[k]; !ok {
				flat[k] = v
			}
		}
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under key in the file at path. Values that parse
// as JSON (numbers, booleans) are stored typed; anything else as a string.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	flat := Flatten(raw)
	flat[key] = v
	out := Unflatten(flat)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// Reject values the typed config cannot hold.
	if err := json.Unmarshal(data, Default()); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeFile(path, data)
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}
