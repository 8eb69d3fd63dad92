package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Figma struct {
		Token   string `koanf:"token"`
		BaseURL string `koanf:"base_url"`
	} `koanf:"figma"`

	DB struct {
		Path string `koanf:"path"`
	} `koanf:"db"`

	Agent struct {
		ReplyPrefix string `koanf:"reply_prefix"`
	} `koanf:"agent"`

	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"figma.base_url":     "https://api.figma.com",
		"db.path":            "./figsync.db",
		"agent.reply_prefix": "[FDP]",
		"server.port":        3000,
		"log.level":          "info",
		"log.format":         "console",
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./figsync.toml", "$HOME/.figsync.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix FIGSYNC_
	k.Load(env.Provider("FIGSYNC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "FIGSYNC_")), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# figsync configuration

[figma]
token = "your-figma-personal-access-token"
base_url = "https://api.figma.com"

[db]
path = "./figsync.db"

[agent]
reply_prefix = "[FDP]"

[server]
port = 3000

[log]
level = "info"
format = "console"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.DB.Path == "" {
		return fmt.Errorf("db path is required")
	}

	if config.Figma.BaseURL == "" {
		return fmt.Errorf("figma base_url is required")
	}

	if config.Agent.ReplyPrefix == "" {
		return fmt.Errorf("agent reply_prefix is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	switch config.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json")
	}

	return nil
}
