package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const configFileVar = "CIDS_CONFIG_FILE"

type Config interface {
	EnvConfig
	CorsConfig
	TokenConfig
	SecurityConfig
	DiscoveryConfig
	StorageConfig
	IdPConfig
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Token
	Security
	Discovery
	Storage
	IdP
}

// New returns a Config that reads environment variables only.
func New() Config {
	return newConfig(&source{})
}

// Load returns a Config backed by environment variables with an optional
// YAML overlay. The overlay is a flat mapping of variable name to value;
// environment variables still take precedence over it. An empty path falls
// back to CIDS_CONFIG_FILE, and a missing file is not an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(configFileVar)
	}
	src := &source{}
	if path == "" {
		return newConfig(src), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newConfig(src), nil
		}
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := src.parse(data); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return newConfig(src), nil
}

func newConfig(src *source) Config {
	return mainConfig{
		EnvVars:   EnvVars{src: src},
		Cors:      Cors{src: src},
		Token:     Token{src: src},
		Security:  Security{src: src},
		Discovery: Discovery{src: src},
		Storage:   Storage{src: src},
		IdP:       IdP{src: src},
	}
}

// source resolves a setting from the environment first, then the file
// overlay, then the supplied default.
type source struct {
	file map[string]string
}

func (s *source) parse(data []byte) error {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.file = make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(k)
		switch val := v.(type) {
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			s.file[key] = strings.Join(parts, ",")
		case nil:
		default:
			s.file[key] = fmt.Sprint(val)
		}
	}
	return nil
}

func (s *source) get(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	if s != nil {
		if value, ok := s.file[envVar]; ok && value != "" {
			return value
		}
	}
	return defaultValue
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
