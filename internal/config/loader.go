package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "EMORA_"

// Variables honoured under their conventional names. EMORA_ variables win.
var fallbackEnv = map[string]string{
	"GEMINI_API_KEY":   "reply.gemini.api_key",
	"GROQ_API_KEY":     "reply.groq.api_key",
	"MONGODB_URI":      "mongo.uri",
	"MONGODB_DATABASE": "mongo.database",
	"JWT_SECRET":       "auth.secret",
}

// Load builds a Config by layering, low to high precedence:
//  1. defaults (New)
//  2. YAML file named by EMORA_CONFIG
//  3. conventional variables (PORT, GEMINI_API_KEY, ...)
//  4. EMORA_ variables, "__" separating nested keys (EMORA_EMOTION__WINDOW)
//
// A .env file in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		if err := k.Set("http.addr", ":"+port); err != nil {
			return nil, err
		}
	}
	for name, key := range fallbackEnv {
		if v := os.Getenv(name); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, err
			}
		}
	}
	// Gemini vision shares the reply key unless given its own.
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		if err := k.Set("classifier.gemini.api_key", v); err != nil {
			return nil, err
		}
	}

	envProvider := env.Provider(envPrefix, ".", envKey)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf(cfg)); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps EMORA_HTTP__BODY_LIMIT to http.body_limit
func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// unmarshalConf decodes on top of the defaults in out. ZeroFields makes lists
// from the file or environment replace default lists instead of overlaying
// them index by index.
func unmarshalConf(out *Config) koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           out,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			ZeroFields:       true,
		},
	}
}
