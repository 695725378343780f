// Package appconfig loads the kconsole configuration file.
package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	yaml "sigs.k8s.io/yaml"

	"github.com/sttts/kconsole/pkg/resources"
)

type KubernetesConfig struct {
	// Kubeconfig is the kubeconfig path. Empty means the default loading
	// rules ($KUBECONFIG, ~/.kube/config).
	Kubeconfig string `json:"kubeconfig,omitempty"`
	// Context overrides the current context.
	Context string `json:"context,omitempty"`
	// Namespace overrides the context namespace.
	Namespace string `json:"namespace,omitempty"`
}

type LogConfig struct {
	// Level is a zap level name (debug, info, error) or a logr verbosity.
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

type MetricsConfig struct {
	// Address serves /metrics and /healthz when set, e.g. ":9090".
	Address         string          `json:"address,omitempty"`
	ShutdownTimeout metav1.Duration `json:"shutdownTimeout"`
}

type WatchConfig struct {
	// Kinds limits the resource kinds served. Kinds missing here are treated
	// as absent from the cluster.
	Kinds []string `json:"kinds"`
}

type Config struct {
	Kubernetes KubernetesConfig `json:"kubernetes"`
	Log        LogConfig        `json:"log"`
	Metrics    MetricsConfig    `json:"metrics"`
	Watch      WatchConfig      `json:"watch"`
}

func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info"},
		Metrics: MetricsConfig{ShutdownTimeout: metav1.Duration{Duration: 5 * time.Second}},
		Watch: WatchConfig{Kinds: []string{
			string(resources.KindPod),
			string(resources.KindService),
			string(resources.KindRoute),
			string(resources.KindDeployment),
			string(resources.KindDeploymentConfig),
			string(resources.KindReplicaSet),
			string(resources.KindReplicationController),
		}},
	}
}

// Path returns the location of the user configuration file.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kconsole", "config.yaml"), nil
}

// Load reads ~/.kconsole/config.yaml if present, otherwise returns defaults.
func Load() (*Config, error) {
	p, err := Path()
	if err != nil {
		return Default(), err
	}
	return LoadFile(p)
}

// LoadFile reads the config at path over the defaults. A missing file yields
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Metrics.ShutdownTimeout.Duration <= 0 {
		cfg.Metrics.ShutdownTimeout = Default().Metrics.ShutdownTimeout
	}
	if _, err := cfg.WatchKinds(); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// WatchKinds parses Watch.Kinds. An empty list means every kind.
func (c *Config) WatchKinds() ([]resources.Kind, error) {
	if len(c.Watch.Kinds) == 0 {
		return resources.Kinds(), nil
	}
	seen := map[resources.Kind]bool{}
	out := make([]resources.Kind, 0, len(c.Watch.Kinds))
	for _, s := range c.Watch.Kinds {
		k, err := resources.ParseKind(s)
		if err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

// Save writes the config to ~/.kconsole/config.yaml.
func Save(cfg *Config) error {
	p, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(p, cfg)
}

// SaveFile writes the config to path, creating the directory if needed.
func SaveFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
