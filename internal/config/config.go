package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.couplechat/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	ServerURL      string   `toml:"server_url"`
	Realtime       Realtime `toml:"realtime"`
}

// Realtime tunes the connection client. Zero values mean "use the default".
type Realtime struct {
	// ReconnectBaseDelayMS is the backoff delay for the first reconnect attempt.
	ReconnectBaseDelayMS int `toml:"reconnect_base_delay_ms"`
	// ReconnectMaxDelayMS caps the exponential backoff delay.
	ReconnectMaxDelayMS int `toml:"reconnect_max_delay_ms"`
	// ReconnectMaxAttempts is the number of consecutive failures before the
	// client gives up and waits for an explicit reconnect.
	ReconnectMaxAttempts int `toml:"reconnect_max_attempts"`
	// ReconnectJitterMS is the upper bound of the uniform random jitter added
	// to each backoff delay. 0 disables jitter.
	ReconnectJitterMS int `toml:"reconnect_jitter_ms"`
	// HeartbeatIntervalS is the seconds between liveness pings.
	HeartbeatIntervalS int `toml:"heartbeat_interval_s"`
	// HeartbeatEscalation is the number of consecutive missed pongs that
	// forces a reconnect. 0 means missed pongs are logged only.
	HeartbeatEscalation int `toml:"heartbeat_escalation"`
	// TypingDebounceMS is how long after the last keystroke signal the client
	// auto-emits typing_stop.
	TypingDebounceMS int `toml:"typing_debounce_ms"`
	// ConnectTimeoutS bounds a single dial attempt.
	ConnectTimeoutS int `toml:"connect_timeout_s"`
}

// DefaultServerURL is used when server_url is unset.
const DefaultServerURL = "http://localhost:3001"

// Default returns a config populated with the stock tuning values.
func Default() *Config {
	return &Config{
		ServerURL: DefaultServerURL,
		Realtime: Realtime{
			ReconnectBaseDelayMS: 1000,
			ReconnectMaxDelayMS:  30000,
			ReconnectMaxAttempts: 10,
			ReconnectJitterMS:    1000,
			HeartbeatIntervalS:   30,
			TypingDebounceMS:     3000,
			ConnectTimeoutS:      10,
		},
	}
}

// Load reads config from the given path and fills unset fields with defaults.
// Returns nil and an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default() if the file
// does not exist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.ServerURL == "" {
		c.ServerURL = d.ServerURL
	}
	r, dr := &c.Realtime, d.Realtime
	if r.ReconnectBaseDelayMS <= 0 {
		r.ReconnectBaseDelayMS = dr.ReconnectBaseDelayMS
	}
	if r.ReconnectMaxDelayMS <= 0 {
		r.ReconnectMaxDelayMS = dr.ReconnectMaxDelayMS
	}
	if r.ReconnectMaxAttempts <= 0 {
		r.ReconnectMaxAttempts = dr.ReconnectMaxAttempts
	}
	if r.ReconnectJitterMS < 0 {
		r.ReconnectJitterMS = dr.ReconnectJitterMS
	}
	if r.HeartbeatIntervalS <= 0 {
		r.HeartbeatIntervalS = dr.HeartbeatIntervalS
	}
	if r.HeartbeatEscalation < 0 {
		r.HeartbeatEscalation = 0
	}
	if r.TypingDebounceMS <= 0 {
		r.TypingDebounceMS = dr.TypingDebounceMS
	}
	if r.ConnectTimeoutS <= 0 {
		r.ConnectTimeoutS = dr.ConnectTimeoutS
	}
}

// Durations of the realtime tuning block, converted once for consumers.

func (r Realtime) ReconnectBaseDelay() time.Duration {
	return time.Duration(r.ReconnectBaseDelayMS) * time.Millisecond
}

func (r Realtime) ReconnectMaxDelay() time.Duration {
	return time.Duration(r.ReconnectMaxDelayMS) * time.Millisecond
}

func (r Realtime) ReconnectJitter() time.Duration {
	return time.Duration(r.ReconnectJitterMS) * time.Millisecond
}

func (r Realtime) HeartbeatInterval() time.Duration {
	return time.Duration(r.HeartbeatIntervalS) * time.Second
}

func (r Realtime) TypingDebounce() time.Duration {
	return time.Duration(r.TypingDebounceMS) * time.Millisecond
}

func (r Realtime) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutS) * time.Second
}
