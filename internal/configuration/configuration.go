package configuration

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/malonaz/chatsync/internal/file"
)

var defaultConfig = Config{
	OpenaiAPIKey:   "API_KEY",
	OpenaiAPIHost:  "https://api.openai.com",
	RequestTimeout: 60,
	Database:       "~/.config/chatsync/chatsync.db",
	DefaultModel:   "openai/gpt-4o-mini",

	Remote: &RemoteConfig{
		DSN:   "",
		Email: "",
	},

	Server: &ServerConfig{
		Port: 3030,
	},
}

// Config holds configuration for the chatsync tool.
type Config struct {
	OpenaiAPIKey   string `json:"openai_api_key"`
	OpenaiAPIHost  string `json:"openai_api_host"`
	RequestTimeout int    `json:"request_timeout"`
	// Path to the local sqlite database.
	Database string `json:"database"`
	// The model used for new chats.
	DefaultModel string `json:"default_model"`

	Remote *RemoteConfig `json:"remote"`
	Server *ServerConfig `json:"server"`
}

// RemoteConfig holds configuration for the remote mirror. An empty DSN
// leaves the tool fully offline.
type RemoteConfig struct {
	// Postgres connection string of the remote store.
	DSN string `json:"dsn"`
	// Email identifying this user on the remote store.
	Email string `json:"email"`
}

// ServerConfig holds configuration for the streaming relay server.
type ServerConfig struct {
	Port int `json:"port"`
}

// Parse a configuration file.
func Parse(path string) (*Config, error) {
	path, err := file.ExpandPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "expanding path")
	}

	if err := initializeIfNotPresent(path); err != nil {
		return nil, errors.Wrap(err, "initializing configuration")
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading file")
	}

	config := &Config{}
	if err = json.Unmarshal(bytes, config); err != nil {
		return nil, errors.Wrap(err, "unmarshaling into config")
	}

	expandedDatabasePath, err := file.ExpandPath(config.Database)
	if err != nil {
		return nil, errors.Wrap(err, "expanding database path")
	}
	config.Database = expandedDatabasePath
	if err := file.CreateDirectoryIfNotExist(filepath.Dir(config.Database)); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}
	return config, nil
}

// save a configuration file.
func (c *Config) save(path string) error {
	bytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}

	err = os.WriteFile(path, bytes, 0644)
	if err != nil {
		return errors.Wrap(err, "writing file")
	}

	return nil
}

// initializeIfNotPresent initializes a config if it does not exist.
func initializeIfNotPresent(path string) error {
	exists, err := file.Exists(path)
	if err != nil {
		return errors.Wrap(err, "checking config file")
	}
	if exists {
		return nil
	}

	if err := file.CreateDirectoryIfNotExist(filepath.Dir(path)); err != nil {
		return errors.Wrap(err, "creating folders")
	}
	if err := defaultConfig.save(path); err != nil {
		return errors.Wrap(err, "saving default config")
	}
	return nil
}
