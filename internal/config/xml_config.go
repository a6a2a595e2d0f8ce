// Package config provides XML-based configuration management.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"DocReview"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Extraction backend configuration
	Extraction ExtractionConfig `xml:"Extraction"`

	// Review and run retention settings
	Review ReviewConfig `xml:"Review"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory     string `xml:"DataDirectory"`
	UploadsDirectory  string `xml:"UploadsDirectory"`
	SessionsDatabase  string `xml:"SessionsDatabase"`
	EnablePersistence bool   `xml:"EnablePersistence"`
}

// ExtractionConfig points at the streaming extraction backend
type ExtractionConfig struct {
	URL             string `xml:"URL"`
	TimeoutSeconds  int    `xml:"TimeoutSeconds"`
	DefaultModelKey string `xml:"DefaultModelKey"`
	DefaultAIModel  string `xml:"DefaultAIModel"`
}

// ReviewConfig contains run retention, schema and sorting settings
type ReviewConfig struct {
	HintsFile              string `xml:"HintsFile"`
	MaxActiveRuns          int    `xml:"MaxActiveRuns"`
	SessionTimeoutMinutes  int    `xml:"SessionTimeoutMinutes"`
	KeepAliveMinutes       int    `xml:"KeepAliveMinutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes"`
	SchemaCacheSize        int    `xml:"SchemaCacheSize"`
	SchemaCacheTTLMinutes  int    `xml:"SchemaCacheTTLMinutes"`
	CollationLocale        string `xml:"CollationLocale"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	WebSocketBufferSize  int    `xml:"WebSocketBufferSize"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 0,
			IdleTimeout:  120,
			BodyLimit:    "200M",
		},
		Storage: StorageConfig{
			DataDirectory:     "./data",
			UploadsDirectory:  "./data/uploads",
			SessionsDatabase:  "./data/reviews.duckdb",
			EnablePersistence: true,
		},
		Extraction: ExtractionConfig{
			URL:             "http://localhost:8000/api/extract/stream",
			TimeoutSeconds:  600,
			DefaultModelKey: "invoice",
			DefaultAIModel:  "",
		},
		Review: ReviewConfig{
			HintsFile:              "",
			MaxActiveRuns:          10,
			SessionTimeoutMinutes:  30,
			KeepAliveMinutes:       5,
			CleanupIntervalMinutes: 5,
			SchemaCacheSize:        128,
			SchemaCacheTTLMinutes:  10,
			CollationLocale:        "en",
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			WebSocketBufferSize:  64,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Document Review Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR moves every storage path that still lives under the old data directory
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		old := c.Storage.DataDirectory
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = rebase(c.Storage.UploadsDirectory, old, dataDir)
		c.Storage.SessionsDatabase = rebase(c.Storage.SessionsDatabase, old, dataDir)
	}

	if url := os.Getenv("EXTRACTION_URL"); url != "" {
		c.Extraction.URL = url
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

func rebase(path, oldDir, newDir string) string {
	rel, err := filepath.Rel(filepath.Clean(oldDir), filepath.Clean(path))
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.Join(newDir, rel)
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
	resolve(&c.Storage.DataDirectory)
	resolve(&c.Storage.UploadsDirectory)
	resolve(&c.Storage.SessionsDatabase)
	resolve(&c.Review.HintsFile)
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// ExtractionTimeout is the whole-request timeout of the extraction transport.
func (c *AppConfig) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSeconds) * time.Second
}

// SessionTimeout is how long finished runs stay in memory.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Review.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval is the period of the run cleanup loop.
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Review.CleanupIntervalMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}
	if c.Storage.SessionsDatabase != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.SessionsDatabase))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
