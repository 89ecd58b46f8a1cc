package cmd

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conductor-forge/relay/internal/agentrunner"
	"github.com/conductor-forge/relay/internal/config"
	"github.com/conductor-forge/relay/internal/docverify"
	"github.com/conductor-forge/relay/internal/history"
	"github.com/conductor-forge/relay/internal/integration"
	"github.com/conductor-forge/relay/internal/judge"
	"github.com/conductor-forge/relay/internal/logger"
	"github.com/conductor-forge/relay/internal/pipeline"
	"github.com/conductor-forge/relay/internal/planner"
	"github.com/conductor-forge/relay/internal/store"
	"github.com/conductor-forge/relay/internal/vcsgit"
	"github.com/conductor-forge/relay/internal/worker"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <instruction>",
		Short: "Plan and execute an instruction end to end",
		Long: `Run plans an instruction into a dependency graph of tasks, then
dispatches Worker and Judge agents across isolated git worktrees to
implement, evaluate, and integrate the result back onto the base branch.

Configuration is loaded from .relay/config.yaml in the repository root
if present; CLI flags override configuration file settings.

Examples:
  relay run "add structured logging to the HTTP handlers"
  relay run --repo /path/to/repo --base develop "fix the flaky retry test"
  relay run --max-workers 5 --config custom.yaml "migrate to the new API client"`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .relay/config.yaml in --repo)")
	cmd.Flags().String("repo", ".", "Repository root to operate on")
	cmd.Flags().String("base", "main", "Base branch tasks resolve from and integrate onto")
	cmd.Flags().Int("max-workers", -1, "Maximum number of concurrent task workers (-1 = use config)")
	cmd.Flags().String("log-level", "", "Override configured log level (trace,debug,info,warn,error)")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	instruction := args[0]

	repoRoot, _ := cmd.Flags().GetString("repo")
	repoRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return fmt.Errorf("relay: resolve repo root: %w", err)
	}

	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = filepath.Join(repoRoot, ".relay", "config.yaml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("relay: load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if mw, _ := cmd.Flags().GetInt("max-workers"); mw >= 1 {
		cfg.MaxWorkers = mw
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("relay: invalid configuration: %w", err)
	}

	base, _ := cmd.Flags().GetString("base")

	coordDir := filepath.Join(repoRoot, ".relay", "state")
	s, err := store.New(coordDir)
	if err != nil {
		return fmt.Errorf("relay: open coordination store: %w", err)
	}

	logDir := cfg.LogDir
	if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(repoRoot, logDir)
	}
	fileLog, err := logger.NewFileLogger(logDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("relay: open log file: %w", err)
	}
	defer fileLog.Close()
	log := logger.Multi{Loggers: []logger.Logger{logger.NewConsoleLogger(cfg.LogLevel), fileLog}}

	git := vcsgit.New()

	runner := agentrunner.NewClaudeRunner()

	docVerifier := docverify.New()

	historyPath := filepath.Join(coordDir, "history.db")
	hist, err := history.Open(historyPath)
	if err != nil {
		log.Warn("relay: history store unavailable, planner self-evaluation hints disabled", "error", err.Error())
		hist = nil
	}

	w := &worker.Worker{
		Store:  s,
		VCS:    git,
		Runner: runner,
		Config: worker.Config{
			RepoRoot:      repoRoot,
			WorktreeDir:   filepath.Join(repoRoot, ".git", "worktree"),
			RunsDir:       filepath.Join(coordDir, "runs-log"),
			AutoSignature: cfg.Commit.AutoSignature,
			AgentType:     cfg.Agents.Worker.Type,
			Model:         cfg.Agents.Worker.Model,
		},
	}

	j := &judge.Judge{
		VCS:         git,
		Runner:      runner,
		DocVerifier: docVerifier,
		Config: judge.Config{
			AgentType:        cfg.Agents.Judge.Type,
			Model:            cfg.Agents.Judge.Model,
			JudgeTaskRetries: cfg.Iterations.JudgeTaskRetries,
		},
	}

	integrationEngine := integration.New(git)
	integrationPatterns, err := compileIntegrationPatterns(cfg)
	if err != nil {
		return fmt.Errorf("relay: compile integration patterns: %w", err)
	}
	integrationEngine.Patterns = integrationPatterns

	p := &planner.Planner{
		Runner:  runner,
		History: hist,
		Config: planner.Config{
			AgentType:               cfg.Agents.Planner.Type,
			Model:                   cfg.Agents.Planner.Model,
			QualityThreshold:        cfg.QualityThresholdFraction(),
			PlannerQualityRetries:   cfg.Iterations.PlannerQualityRetries,
			MaxTasks:                cfg.Planning.MaxTasks,
			MaxTaskDuration:         fmt.Sprintf("%dh", cfg.Planning.MaxTaskDuration),
			StrictContextValidation: cfg.Planning.StrictContextValidation,
		},
	}

	pipe := &pipeline.Pipeline{
		Store:       s,
		VCS:         git,
		Worker:      w,
		Judge:       j,
		Integration: integrationEngine,
		Planner:     p,
		Logger:      log,
		Config: pipeline.Config{
			MaxWorkers:                  cfg.MaxWorkers,
			SerialChainTaskRetries:      cfg.Iterations.SerialChainTaskRetries,
			MaxAdditionalTaskIterations: cfg.Integration.MaxAdditionalTaskIterations,
			PostIntegrationEvaluation:   cfg.Integration.PostIntegrationEvaluation,
			IntegrationSignature:        cfg.Commit.IntegrationSignature,
			MainBase:                    base,
			RepoRoot:                    repoRoot,
		},
	}

	sessionID := uuid.NewString()
	log.Info("relay: planning instruction", "sessionID", sessionID, "instruction", instruction)

	planResult, err := p.PlanTasks(cmd.Context(), instruction)
	if err != nil {
		return fmt.Errorf("relay: plan tasks: %w", err)
	}
	tasks := planner.SpecsToTasks(planResult.Tasks, sessionID, repoRoot, planResult.SessionID)
	for _, t := range tasks {
		if err := s.CreateTask(t); err != nil {
			return fmt.Errorf("relay: persist task %s: %w", t.ID, err)
		}
	}
	log.Info("relay: planned tasks", "count", len(tasks))

	result, err := pipe.Run(cmd.Context(), tasks, instruction, sessionID)
	if err != nil {
		return fmt.Errorf("relay: run pipeline: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nRun summary:\n")
	fmt.Fprintf(out, "  Total tasks:     %d\n", len(result.TaskIDs))
	fmt.Fprintf(out, "  Completed:       %d\n", len(result.CompletedTaskIDs))
	fmt.Fprintf(out, "  Failed:          %d\n", len(result.FailedTaskIDs))
	fmt.Fprintf(out, "  Blocked:         %d\n", len(result.BlockedTaskIDs))
	if len(result.BlockedTaskIDs) > 0 {
		fmt.Fprintf(out, "  Blocked task IDs: %s\n", strings.Join(result.BlockedTaskIDs, ", "))
	}

	if !result.Success {
		return fmt.Errorf("relay: run finished with %d failed and %d blocked task(s)", len(result.FailedTaskIDs), len(result.BlockedTaskIDs))
	}
	return nil
}

// compileIntegrationPatterns turns config's plain filename/path patterns
// into the anchored regexes integration.Patterns expects, reusing the
// default binary-extension set since relay's config doesn't expose one.
func compileIntegrationPatterns(cfg *config.Config) (integration.Patterns, error) {
	lockfile, err := compileNamePatterns(cfg.NormalizedLockfilePatterns(), true)
	if err != nil {
		return integration.Patterns{}, err
	}
	generated, err := compileNamePatterns(cfg.NormalizedGeneratedPathPatterns(), false)
	if err != nil {
		return integration.Patterns{}, err
	}
	return integration.Patterns{
		Lockfile:  lockfile,
		Generated: generated,
		Binary:    integration.DefaultPatterns().Binary,
	}, nil
}

func compileNamePatterns(names []string, anchorEnd bool) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(names))
	for _, name := range names {
		pattern := "(^|/)" + regexp.QuoteMeta(name)
		if anchorEnd {
			pattern += "$"
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("relay: compile pattern %q: %w", name, err)
		}
		out = append(out, re)
	}
	return out, nil
}
