// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// AppConfig is the on-disk configuration for the install service, the
// CLI, and the server, loaded once at startup and then overridden by
// whatever Cobra flags the user set explicitly.
type AppConfig struct {
	Token              string `json:"token" yaml:"token"`
	ModelsRoot         string `json:"models-root" yaml:"models-root"`
	ConvertCacheRoot   string `json:"convert-cache-root" yaml:"convert-cache-root"`
	LegacyConfigRoot   string `json:"legacy-config-root" yaml:"legacy-config-root"`
	LegacyYAMLPath     string `json:"legacy-yaml-path" yaml:"legacy-yaml-path"`
	RecordsPath        string `json:"records-path" yaml:"records-path"`
	HashAlgorithm      string `json:"hash-algorithm" yaml:"hash-algorithm"`
	StartupScan        bool   `json:"startup-scan" yaml:"startup-scan"`
	Concurrency        int    `json:"connections" yaml:"connections"`
	Retries            int    `json:"retries" yaml:"retries"`
	MultipartThreshold string `json:"multipart-threshold" yaml:"multipart-threshold"`
	ServerAddr         string `json:"server-addr" yaml:"server-addr"`
	ServerToken        string `json:"server-token" yaml:"server-token"`
}

// DefaultAppConfig returns the default configuration.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		ModelsRoot:         "models",
		ConvertCacheRoot:   "models/.cache",
		LegacyConfigRoot:   "configs",
		LegacyYAMLPath:     "models.yaml",
		RecordsPath:        "models.db",
		HashAlgorithm:      "sha256",
		Concurrency:        8,
		Retries:            4,
		MultipartThreshold: "256MiB",
		ServerAddr:         "0.0.0.0:8080",
	}
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "modelinstall.json")
}

// loadConfig reads path (or the default JSON/YAML config locations)
// over DefaultAppConfig, then layers the token on top: a --token flag
// always wins over the file, and MODELINSTALL_TOKEN is used only when
// neither the flag nor the file set one. Other flags are applied by
// the commands that define them.
func loadConfig(cmd *cobra.Command, ro *RootOpts) (AppConfig, error) {
	cfg := DefaultAppConfig()

	path := ro.Config
	if path == "" {
		for _, candidate := range []string{
			filepath.Join(filepath.Dir(defaultConfigPath()), "modelinstall.json"),
			filepath.Join(filepath.Dir(defaultConfigPath()), "modelinstall.yaml"),
			filepath.Join(filepath.Dir(defaultConfigPath()), "modelinstall.yml"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("invalid YAML config file: %w", err)
			}
		default:
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("invalid JSON config file: %w", err)
			}
		}
	}

	if tok := strings.TrimSpace(ro.Token); tok != "" {
		cfg.Token = tok
	} else if env := strings.TrimSpace(os.Getenv("MODELINSTALL_TOKEN")); env != "" && cfg.Token == "" {
		cfg.Token = env
	}

	return cfg, nil
}

// parseSize parses a human-readable size string (e.g. "256MiB") to
// bytes, defaulting to def when s is empty.
func parseSize(s string, def int64) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	var n float64
	var unit string
	if _, err := fmt.Sscanf(strings.ToUpper(s), "%f%s", &n, &unit); err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	switch unit {
	case "B", "":
		return int64(n), nil
	case "KB":
		return int64(n * 1000), nil
	case "MB":
		return int64(n * 1000 * 1000), nil
	case "GB":
		return int64(n * 1000 * 1000 * 1000), nil
	case "KIB":
		return int64(n * 1024), nil
	case "MIB":
		return int64(n * 1024 * 1024), nil
	case "GIB":
		return int64(n * 1024 * 1024 * 1024), nil
	default:
		return 0, fmt.Errorf("unknown size unit %q", unit)
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force, useYAML bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir := filepath.Dir(defaultConfigPath())
			ext := ".json"
			if useYAML {
				ext = ".yaml"
			}
			configPath := filepath.Join(configDir, "modelinstall"+ext)

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
			}
			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			cfg := DefaultAppConfig()
			var data []byte
			var err error
			if useYAML {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = json.MarshalIndent(cfg, "", "  ")
			}
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			fmt.Printf("created config file: %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath()
			if _, err := os.Stat(path); err != nil {
				fmt.Println("no config file found, showing defaults")
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(DefaultAppConfig())
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			fmt.Printf("config file: %s\n\n", path)
			fmt.Println(string(data))
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(defaultConfigPath())
		},
	}
}
