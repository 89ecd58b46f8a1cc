// Package config loads relay's YAML configuration: worker concurrency,
// per-role agent selection, commit signing policy, integration strategy,
// planning thresholds, and retry budgets, grounded in the teacher's
// config.go defaulting style but trimmed to relay's recognized options.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentConfig selects the agent persona/model a role invokes.
type AgentConfig struct {
	Type  string `yaml:"type"`
	Model string `yaml:"model"`
}

// AgentsConfig is per-role agent selection.
type AgentsConfig struct {
	Planner AgentConfig `yaml:"planner"`
	Worker  AgentConfig `yaml:"worker"`
	Judge   AgentConfig `yaml:"judge"`
}

// CommitConfig controls GPG-signing policy.
type CommitConfig struct {
	// AutoSignature signs every task-branch commit.
	AutoSignature bool `yaml:"autoSignature"`
	// IntegrationSignature gates the final integration-branch merge on a
	// signed, interactive finalize step rather than an unattended
	// fast-forward merge.
	IntegrationSignature bool `yaml:"integrationSignature"`
}

// IntegrationConfig tunes the Integration Engine (§4.7).
type IntegrationConfig struct {
	Method                      string   `yaml:"method"`
	PostIntegrationEvaluation   bool     `yaml:"postIntegrationEvaluation"`
	MaxAdditionalTaskIterations int      `yaml:"maxAdditionalTaskIterations"`
	MergeStrategy               string   `yaml:"mergeStrategy"`
	LockfilePatterns            []string `yaml:"lockfilePatterns"`
	GeneratedPathPatterns       []string `yaml:"generatedPathPatterns"`
}

// PlanningConfig tunes Planner Operations (§4.8).
type PlanningConfig struct {
	// QualityThreshold is on a 0-100 scale in config (matching the
	// operator-facing default of 60) and normalized to 0-1 internally,
	// the scale planner.Config.QualityThreshold expects.
	QualityThreshold        float64 `yaml:"qualityThreshold"`
	StrictContextValidation bool    `yaml:"strictContextValidation"`
	MaxTaskDuration         int     `yaml:"maxTaskDuration"`
	MaxTasks                int     `yaml:"maxTasks"`
}

// IterationsConfig bounds the various retry loops across the engine.
type IterationsConfig struct {
	PlannerQualityRetries int `yaml:"plannerQualityRetries"`
	JudgeTaskRetries      int `yaml:"judgeTaskRetries"`
	OrchestrateMainLoop   int `yaml:"orchestrateMainLoop"`
	SerialChainTaskRetries int `yaml:"serialChainTaskRetries"`
}

// Config is relay's top-level configuration document.
type Config struct {
	MaxWorkers  int               `yaml:"maxWorkers"`
	LogLevel    string            `yaml:"logLevel"`
	LogDir      string            `yaml:"logDir"`
	Agents      AgentsConfig      `yaml:"agents"`
	Commit      CommitConfig      `yaml:"commit"`
	Integration IntegrationConfig `yaml:"integration"`
	Planning    PlanningConfig    `yaml:"planning"`
	Iterations  IterationsConfig  `yaml:"iterations"`
}

// DefaultLockfilePatterns is the common set auto-resolved during
// integration merges; fully operator-overridable.
func DefaultLockfilePatterns() []string {
	return []string{"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "Cargo.lock", "go.sum"}
}

// DefaultGeneratedPathPatterns is the common set of build/vendor
// directories auto-resolved during integration merges.
func DefaultGeneratedPathPatterns() []string {
	return []string{"node_modules/", "vendor/"}
}

// DefaultConfig returns a Config with spec-documented defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers: 3,
		LogLevel:   "info",
		LogDir:     ".relay/logs",
		Agents: AgentsConfig{
			Planner: AgentConfig{Type: "general-purpose", Model: ""},
			Worker:  AgentConfig{Type: "general-purpose", Model: ""},
			Judge:   AgentConfig{Type: "general-purpose", Model: ""},
		},
		Commit: CommitConfig{
			AutoSignature:        false,
			IntegrationSignature: true,
		},
		Integration: IntegrationConfig{
			Method:                      "auto",
			PostIntegrationEvaluation:   true,
			MaxAdditionalTaskIterations: 3,
			MergeStrategy:               "ff-prefer",
			LockfilePatterns:            DefaultLockfilePatterns(),
			GeneratedPathPatterns:       DefaultGeneratedPathPatterns(),
		},
		Planning: PlanningConfig{
			QualityThreshold:        60,
			StrictContextValidation: false,
			MaxTaskDuration:         4,
			MaxTasks:                5,
		},
		Iterations: IterationsConfig{
			PlannerQualityRetries:  5,
			JudgeTaskRetries:       3,
			OrchestrateMainLoop:    3,
			SerialChainTaskRetries: 3,
		},
	}
}

// Load reads config from path, merging over spec defaults. A missing file
// is not an error: relay runs on defaults alone. A malformed file is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// QualityThresholdFraction returns QualityThreshold normalized to 0-1,
// the scale planner.Config expects.
func (c *Config) QualityThresholdFraction() float64 {
	return c.Planning.QualityThreshold / 100
}

// Validate checks the loaded configuration for internally-inconsistent
// values before the engine starts.
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("config: maxWorkers must be >= 1, got %d", c.MaxWorkers)
	}
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("config: invalid logLevel %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	validMergeStrategies := map[string]bool{"ff-prefer": true, "no-ff": true}
	if !validMergeStrategies[c.Integration.MergeStrategy] {
		return fmt.Errorf("config: invalid integration.mergeStrategy %q, must be one of: ff-prefer, no-ff", c.Integration.MergeStrategy)
	}
	if c.Integration.MaxAdditionalTaskIterations < 0 {
		return fmt.Errorf("config: integration.maxAdditionalTaskIterations must be >= 0, got %d", c.Integration.MaxAdditionalTaskIterations)
	}
	if c.Planning.QualityThreshold < 0 || c.Planning.QualityThreshold > 100 {
		return fmt.Errorf("config: planning.qualityThreshold must be within 0-100, got %v", c.Planning.QualityThreshold)
	}
	if c.Planning.MaxTasks < 1 {
		return fmt.Errorf("config: planning.maxTasks must be >= 1, got %d", c.Planning.MaxTasks)
	}
	for name, n := range map[string]int{
		"iterations.plannerQualityRetries":  c.Iterations.PlannerQualityRetries,
		"iterations.judgeTaskRetries":       c.Iterations.JudgeTaskRetries,
		"iterations.orchestrateMainLoop":    c.Iterations.OrchestrateMainLoop,
		"iterations.serialChainTaskRetries": c.Iterations.SerialChainTaskRetries,
	} {
		if n < 1 {
			return fmt.Errorf("config: %s must be >= 1, got %d", name, n)
		}
	}
	return nil
}

// normalizePatterns trims blank entries a hand-edited config file may
// introduce; called by callers constructing integration.Patterns from
// config rather than by Load itself, since an empty override is a valid
// "disable this class" choice.
func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// NormalizedLockfilePatterns returns Integration.LockfilePatterns with
// blank entries removed.
func (c *Config) NormalizedLockfilePatterns() []string {
	return normalizePatterns(c.Integration.LockfilePatterns)
}

// NormalizedGeneratedPathPatterns returns Integration.GeneratedPathPatterns
// with blank entries removed.
func (c *Config) NormalizedGeneratedPathPatterns() []string {
	return normalizePatterns(c.Integration.GeneratedPathPatterns)
}
