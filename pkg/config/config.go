// Package config implements the ambient configuration stack: a
// YAML-sourced environment (pkg/config.Env, grounded on the teacher's
// storage.ConfigEnv) plus a JSON-persisted, mutex-guarded per-resource
// config store (grounded on storage.ConfigGeneral) for video-source and
// scripting-thread definitions.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Env is the server's process-wide environment, sourced from one YAML file
// on startup.
type Env struct {
	Port string `yaml:"port"`

	PluginDir       string `yaml:"pluginDir"`
	SourceConfigDir string `yaml:"sourceConfigDir"`
	ThreadConfigDir string `yaml:"threadConfigDir"`

	LogDBPath string `yaml:"logDbPath"`
	HomeDir   string `yaml:"homeDir"`
	ConfigDir string
}

// NewEnv parses envYAML (read from envPath, kept only to derive ConfigDir),
// applies defaults relative to ConfigDir, and validates that every
// filesystem path is absolute.
func NewEnv(envPath string, envYAML []byte) (*Env, error) {
	var env Env
	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("could not unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Port == "" {
		env.Port = "2020"
	}
	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.PluginDir == "" {
		env.PluginDir = filepath.Join(env.HomeDir, "plugins")
	}
	if env.SourceConfigDir == "" {
		env.SourceConfigDir = filepath.Join(env.ConfigDir, "sources")
	}
	if env.ThreadConfigDir == "" {
		env.ThreadConfigDir = filepath.Join(env.ConfigDir, "threads")
	}
	if env.LogDBPath == "" {
		env.LogDBPath = filepath.Join(env.ConfigDir, "events.sqlite")
	}

	for name, path := range map[string]string{
		"homeDir":         env.HomeDir,
		"pluginDir":       env.PluginDir,
		"sourceConfigDir": env.SourceConfigDir,
		"threadConfigDir": env.ThreadConfigDir,
		"logDbPath":       env.LogDBPath,
	} {
		if !filepath.IsAbs(path) {
			return nil, fmt.Errorf("%v %q is not an absolute path", name, path)
		}
	}

	return &env, nil
}

// PrepareDirectories creates the directories the server expects to exist.
func (env *Env) PrepareDirectories() error {
	for _, dir := range []string{env.PluginDir, env.SourceConfigDir, env.ThreadConfigDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %v: %w", dir, err)
		}
	}
	return nil
}

// StepConfig is one processing-step's persisted identity and property
// values. Values are kept as their string representation, the way the
// teacher's map[string]string-based config stores every value, and are
// converted through variant.Value.ChangeType when applied to a live
// instance.
type StepConfig struct {
	Name   string            `json:"name"`
	Plugin string            `json:"plugin"` // plug-in GUID
	Config map[string]string `json:"config"`
}

// SourceConfig is one video source's persisted definition.
type SourceConfig struct {
	Name         string            `json:"name"`
	Plugin       string            `json:"plugin"` // video-source plug-in GUID
	DropWhenBusy bool              `json:"dropWhenBusy"`
	SourceConfig map[string]string `json:"sourceConfig"`
	Steps        []StepConfig      `json:"steps"`
}

// ThreadConfig is one scripting-thread's persisted definition.
type ThreadConfig struct {
	Name       string `json:"name"`
	Plugin     string `json:"plugin"` // scripting-engine plug-in GUID
	PeriodMsec int    `json:"periodMsec"`
	ScriptFile string `json:"scriptFile"`
}
