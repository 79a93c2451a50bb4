// Package config defines service configuration and its defaults.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	HTTP       HTTPConfig       `koanf:"http"`
	Emotion    EmotionConfig    `koanf:"emotion"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Dispatch   DispatchConfig   `koanf:"dispatch"`
	Reply      ReplyConfig      `koanf:"reply"`
	Session    SessionConfig    `koanf:"session"`
	Auth       AuthConfig       `koanf:"auth"`
	Mongo      MongoConfig      `koanf:"mongo"`
	MQTT       MQTTConfig       `koanf:"mqtt"`
}

type HTTPConfig struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string `koanf:"addr"`
	// BodyLimit caps request bodies, echo notation ("8M").
	BodyLimit   string   `koanf:"body_limit"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type EmotionConfig struct {
	// Threshold is the minimum confidence a classifier label needs.
	Threshold float64 `koanf:"threshold"`
	// Window is the smoothing window length in frames.
	Window int `koanf:"window"`
	// MinVotes is how many window entries the winner needs. Zero means a
	// strict majority.
	MinVotes        int `koanf:"min_votes"`
	ProactiveStreak int `koanf:"proactive_streak"`
	MaxPixels       int `koanf:"max_pixels"`
}

type ClassifierConfig struct {
	// Order lists strategies by priority. Unknown names are rejected.
	Order        []string       `koanf:"order"`
	ProbeTimeout time.Duration  `koanf:"probe_timeout"`
	FER          FERConfig      `koanf:"fer"`
	DeepFace     DeepFaceConfig `koanf:"deepface"`
	Haar         HaarConfig     `koanf:"haar"`
	Gemini       GeminiConfig   `koanf:"gemini"`
}

type FERConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

type DeepFaceConfig struct {
	Command []string      `koanf:"command"`
	Timeout time.Duration `koanf:"timeout"`
}

type HaarConfig struct {
	FaceCascade  string `koanf:"face_cascade"`
	SmileCascade string `koanf:"smile_cascade"`
}

type GeminiConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"`
}

type DispatchConfig struct {
	Workers     int `koanf:"workers"`
	QueueSize   int `koanf:"queue_size"`
	LanePending int `koanf:"lane_pending"`
}

type ReplyConfig struct {
	// Provider is one of rules, gemini, groq.
	Provider     string        `koanf:"provider"`
	Timeout      time.Duration `koanf:"timeout"`
	HistoryLimit int           `koanf:"history_limit"`
	Gemini       GeminiConfig  `koanf:"gemini"`
	Groq         GroqConfig    `koanf:"groq"`
}

type GroqConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

type SessionConfig struct {
	Retention       time.Duration `koanf:"retention"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	// MaxSamples caps the per-frame timeline kept in a record. Zero keeps all.
	MaxSamples int `koanf:"max_samples"`
}

type AuthConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Secret   string        `koanf:"secret"`
	TokenTTL time.Duration `koanf:"token_ttl"`
}

type MongoConfig struct {
	// URI enables MongoDB persistence when set; records stay in memory otherwise.
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

type MQTTConfig struct {
	// Broker enables event publishing when set, e.g. "tcp://localhost:1883".
	Broker      string `koanf:"broker"`
	ClientID    string `koanf:"client_id"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	TopicPrefix string `koanf:"topic_prefix"`
	QoS         int    `koanf:"qos"`
}

// New returns a Config populated with defaults
func New() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:        ":8000",
			BodyLimit:   "8M",
			CORSOrigins: []string{"*"},
		},
		Emotion: EmotionConfig{
			Threshold:       0.45,
			Window:          3,
			ProactiveStreak: 3,
			MaxPixels:       16_000_000,
		},
		Classifier: ClassifierConfig{
			Order:        []string{"fer", "deepface", "haar"},
			ProbeTimeout: 10 * time.Second,
			FER:          FERConfig{Timeout: 5 * time.Second},
			DeepFace:     DeepFaceConfig{Timeout: 10 * time.Second},
			Gemini:       GeminiConfig{Model: "gemini-2.0-flash"},
		},
		Dispatch: DispatchConfig{
			Workers:     runtime.NumCPU(),
			QueueSize:   256,
			LanePending: 16,
		},
		Reply: ReplyConfig{
			Provider:     "rules",
			Timeout:      15 * time.Second,
			HistoryLimit: 20,
			Gemini:       GeminiConfig{Model: "gemini-2.0-flash"},
			Groq:         GroqConfig{Model: "llama-3.1-8b-instant", BaseURL: "https://api.groq.com/openai/v1"},
		},
		Session: SessionConfig{
			Retention:       24 * time.Hour,
			IdleTimeout:     30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			MaxSamples:      500,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Mongo: MongoConfig{
			Database: "emora",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "emora/emotions",
		},
	}
}

var knownStrategies = map[string]bool{"fer": true, "deepface": true, "haar": true, "gemini": true}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr must not be empty"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}

	e := c.Emotion
	if e.Threshold < 0 || e.Threshold > 1 {
		errs = append(errs, fmt.Errorf("emotion.threshold must be within [0,1], got %v", e.Threshold))
	}
	if e.Window < 1 {
		errs = append(errs, fmt.Errorf("emotion.window must be at least 1, got %d", e.Window))
	}
	if e.MinVotes < 0 || e.MinVotes > e.Window {
		errs = append(errs, fmt.Errorf("emotion.min_votes must be within [0,%d], got %d", e.Window, e.MinVotes))
	}
	if c.Session.MaxSamples < 0 {
		errs = append(errs, fmt.Errorf("session.max_samples must not be negative, got %d", c.Session.MaxSamples))
	}

	if len(c.Classifier.Order) == 0 {
		errs = append(errs, errors.New("classifier.order must name at least one strategy"))
	}
	for _, name := range c.Classifier.Order {
		if !knownStrategies[name] {
			errs = append(errs, fmt.Errorf("unknown classifier strategy %q", name))
		}
	}

	if c.Dispatch.Workers < 1 {
		errs = append(errs, fmt.Errorf("dispatch.workers must be at least 1, got %d", c.Dispatch.Workers))
	}
	if c.Dispatch.QueueSize < 1 || c.Dispatch.LanePending < 1 {
		errs = append(errs, errors.New("dispatch.queue_size and dispatch.lane_pending must be positive"))
	}

	switch c.Reply.Provider {
	case "rules":
	case "gemini":
		if c.Reply.Gemini.APIKey == "" {
			errs = append(errs, errors.New("reply.gemini.api_key is required for the gemini provider"))
		}
	case "groq":
		if c.Reply.Groq.APIKey == "" {
			errs = append(errs, errors.New("reply.groq.api_key is required for the groq provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown reply provider %q", c.Reply.Provider))
	}

	if c.Auth.Enabled && c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required when auth is enabled"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	return errors.Join(errs...)
}
