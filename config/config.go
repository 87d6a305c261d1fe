// Package config loads tracker configuration from CLI flags or a yaml file.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAsset      = "USDT"
	DefaultDataDir    = "./data"
	DefaultListenAddr = ":8080"
)

// Config runtime configuration of the tracker.
type Config struct {
	// Asset settlement asset whose income events are tracked.
	Asset string
	// DataDir directory holding the ledger WAL and state documents.
	DataDir string
	// ListenAddr HTTP listen address of the API server.
	ListenAddr string
	// AuthToken bearer token required on every API call. Empty disables auth.
	AuthToken string
	// TLSDomains enables automatic TLS certificates for these hosts.
	TLSDomains []string
	// CertCacheDir cache directory for issued certificates.
	CertCacheDir string
}

type configYaml struct {
	Asset        string   `yaml:"asset,omitempty"`
	DataDir      string   `yaml:"data_dir,omitempty"`
	ListenAddr   string   `yaml:"listen_addr,omitempty"`
	AuthToken    string   `yaml:"auth_token,omitempty"`
	TLSDomains   []string `yaml:"tls_domains,omitempty"`
	CertCacheDir string   `yaml:"cert_cache_dir,omitempty"`
}

// Get parses flags and, when --config points to a yaml file, merges it in.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	asset := flag.String("asset", DefaultAsset, "tracked settlement asset, example: USDT")
	dataDir := flag.String("datadir", DefaultDataDir, "data directory for ledger and state")
	listen := flag.String("listen", DefaultListenAddr, "http listen address")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	cfg := Config{
		Asset:      *asset,
		DataDir:    *dataDir,
		ListenAddr: *listen,
		AuthToken:  os.Getenv("PERPTRACK_AUTH_TOKEN"),
	}

	return cfg, cfg.validate()
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp configYaml
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("parse yaml config: %w", err)
	}

	cfg := Config{
		Asset:        tmp.Asset,
		DataDir:      tmp.DataDir,
		ListenAddr:   tmp.ListenAddr,
		AuthToken:    tmp.AuthToken,
		TLSDomains:   tmp.TLSDomains,
		CertCacheDir: tmp.CertCacheDir,
	}
	if cfg.Asset == "" {
		cfg.Asset = DefaultAsset
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("PERPTRACK_AUTH_TOKEN")
	}

	return cfg, cfg.validate()
}

// Save writes the configuration as yaml, used by the setup wizard.
func (c Config) Save(path string) error {
	payload, err := yaml.Marshal(configYaml{
		Asset:        c.Asset,
		DataDir:      c.DataDir,
		ListenAddr:   c.ListenAddr,
		AuthToken:    c.AuthToken,
		TLSDomains:   c.TLSDomains,
		CertCacheDir: c.CertCacheDir,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func (c Config) validate() error {
	if c.Asset == "" {
		return fmt.Errorf("asset must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	return nil
}
