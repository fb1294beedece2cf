// Package config loads neuroforge.json into domain.Config and layers the
// operator environment variables on top, so deployments can tune the sandbox
// without editing the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"neuroforge/internal/domain"
)

// marshalIndent, writeFile and lookupEnv are package-level so tests can
// replace them to force errors or inject environments.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
	lookupEnv     = os.LookupEnv
)

// Default returns the built-in configuration.
func Default() *domain.Config {
	return &domain.Config{
		Gateway: domain.GatewayConfig{Port: 8000},
		Runner: domain.RunnerConfig{
			Port:             8001,
			Network:          "none",
			PidsLimit:        "64",
			MaxConcurrency:   4,
			MaxArtifactBytes: 25 << 20,
			Images:           map[string]string{},
		},
		Kernel: domain.KernelConfig{
			MaxAttempts:      3,
			AutoRequirements: true,
			ReapSchedule:     "@every 30m",
		},
		Memory: domain.MemoryConfig{
			DatabaseURL: "file:neuroforge.db",
			EmbedModel:  "all-minilm",
			EmbedURL:    "http://localhost:11434",
		},
		Agents: domain.AgentsConfig{
			Provider:     "local",
			WriterModel:  "gemini-2.0-flash",
			FixerModel:   "gemini-2.0-flash",
			ContextLimit: 8192,
		},
		Infra: domain.InfraConfig{LogFormat: "text", LogLevel: "info"},
		Retry: domain.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 500,
			MaxBackoff:     30000,
			Multiplier:     2,
		},
	}
}

// WriteDefault writes the default Config to path (e.g. neuroforge.json).
// Parent directories are not created.
func WriteDefault(path string) error {
	data, err := marshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data, 0644)
}

// Load reads path, unmarshals into domain.Config over the defaults, and
// applies environment overrides. Returns an error if the file is missing or
// not valid JSON.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	c := Default()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	if err := ApplyEnv(c); err != nil {
		return nil, err
	}
	CleanPaths(c)
	return c, nil
}

// ApplyEnv layers the operator environment variables onto cfg. Unset
// variables leave the file values untouched; malformed numeric values error.
func ApplyEnv(cfg *domain.Config) error {
	if v, ok := lookupEnv("MAX_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("config: MAX_CONCURRENCY %q must be a positive integer", v)
		}
		cfg.Runner.MaxConcurrency = n
	}
	if v, ok := lookupEnv("MAX_ARTIFACT_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("config: MAX_ARTIFACT_BYTES %q must be a non-negative integer", v)
		}
		cfg.Runner.MaxArtifactBytes = n
	}

	setString(&cfg.Runner.Network, "SANDBOX_DOCKER_NETWORK")
	setString(&cfg.Runner.MemoryLimit, "SANDBOX_MEMORY_LIMIT")
	setString(&cfg.Runner.CPULimit, "SANDBOX_CPU_LIMIT")
	setString(&cfg.Runner.PidsLimit, "SANDBOX_PIDS_LIMIT")
	setString(&cfg.Runner.TmpfsSize, "SANDBOX_TMPFS_SIZE")
	setString(&cfg.Runner.ExtraFlags, "SANDBOX_EXTRA_DOCKER_FLAGS")
	setString(&cfg.Runner.PipCacheDir, "SANDBOX_PIP_CACHE")
	setString(&cfg.Runner.ProfilesPath, "SANDBOX_PROFILES")
	setString(&cfg.Kernel.RunnerURL, "RUNNER_URL")
	setString(&cfg.Kernel.DocsDir, "DOCS_DIR")
	setString(&cfg.Memory.DatabaseURL, "MEMORY_DATABASE_URL")
	setString(&cfg.Memory.EmbedModel, "EMBED_MODEL")
	setString(&cfg.Memory.EmbedURL, "EMBED_URL")
	setString(&cfg.Agents.Provider, "LLM_PROVIDER")
	setString(&cfg.Gateway.AuthToken, "GATEWAY_AUTH_TOKEN")

	for _, lang := range domain.Languages() {
		key := "SANDBOX_IMAGE_" + strings.ToUpper(string(lang))
		if v, ok := lookupEnv(key); ok && v != "" {
			if cfg.Runner.Images == nil {
				cfg.Runner.Images = map[string]string{}
			}
			cfg.Runner.Images[string(lang)] = v
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := lookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// CleanPaths applies filepath.Clean to the path fields in cfg to mitigate
// path traversal.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	if cfg.Kernel.DocsDir != "" {
		cfg.Kernel.DocsDir = filepath.Clean(cfg.Kernel.DocsDir)
	}
	if cfg.Runner.ProfilesPath != "" {
		cfg.Runner.ProfilesPath = filepath.Clean(cfg.Runner.ProfilesPath)
	}
	if cfg.Runner.PipCacheDir != "" {
		cfg.Runner.PipCacheDir = filepath.Clean(cfg.Runner.PipCacheDir)
	}
}

// Save writes cfg to path as JSON.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}
