// Command tandem runs agent workflows: it loads a config and a workflow
// definition, dispatches tasks to remote agents over the wire protocol
// and prints a run report.
//
// Usage:
//
//	tandem run --config config.yaml --workflow workflow.yaml
//	tandem validate --config config.yaml --workflow workflow.yaml
//	tandem version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/tandemflow/tandem"
	"github.com/tandemflow/tandem/pkg/a2a"
	"github.com/tandemflow/tandem/pkg/a2a/client"
	"github.com/tandemflow/tandem/pkg/agent"
	"github.com/tandemflow/tandem/pkg/cache"
	"github.com/tandemflow/tandem/pkg/config"
	"github.com/tandemflow/tandem/pkg/config/provider"
	"github.com/tandemflow/tandem/pkg/graph"
	"github.com/tandemflow/tandem/pkg/logger"
	"github.com/tandemflow/tandem/pkg/observability"
	"github.com/tandemflow/tandem/pkg/pool"
	"github.com/tandemflow/tandem/pkg/quality"
	"github.com/tandemflow/tandem/pkg/scheduler"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Execute a workflow."`
	Validate ValidateCmd `cmd:"" help:"Validate config and workflow files."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." default:"tandem.yaml" type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides the config file."`
	LogFormat string `help:"Log format (text or json). Overrides the config file."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("%s (protocol %s)\n", tandem.GetVersion(), a2a.ProtocolVersion)
	return nil
}

// ValidateCmd checks config and workflow files without running anything.
type ValidateCmd struct {
	Workflow string `short:"w" help:"Path to workflow file." type:"path"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := loadConfig(cli.Config); err != nil {
		return err
	}
	fmt.Printf("config OK: %s\n", cli.Config)

	if c.Workflow != "" {
		if _, err := loadWorkflow(c.Workflow); err != nil {
			return err
		}
		fmt.Printf("workflow OK: %s\n", c.Workflow)
	}
	return nil
}

// RunCmd executes a workflow.
type RunCmd struct {
	Workflow string `short:"w" required:"" help:"Path to workflow file." type:"path"`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	logger.Init(loggingFor(cli, cfg))

	wf, err := loadWorkflow(c.Workflow)
	if err != nil {
		return err
	}

	report, err := execute(ctx, cfg, wf)
	if report != nil {
		printReport(wf, report)
	}
	return err
}

// loggingFor resolves the effective logging settings. An explicit
// command-line flag always wins; an unset flag defers to the config
// file, then to the defaults.
func loggingFor(cli *CLI, cfg *config.Config) (level, format string) {
	level = firstNonEmpty(cli.LogLevel, cfg.Logging.Level, "info")
	format = firstNonEmpty(cli.LogFormat, cfg.Logging.Format, "text")
	return level, format
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// execute wires the engine together and drives one run.
func execute(ctx context.Context, cfg *config.Config, wf *config.WorkflowConfig) (*scheduler.Report, error) {
	metrics := observability.NewMetrics()

	connPool := pool.New(pool.Config{SizePerEndpoint: cfg.ConnectionPoolSize})
	defer connPool.Close()

	protoClient := client.New(connPool, client.Config{Metrics: metrics})

	registry := agent.NewRegistry()
	for _, a := range cfg.Agents {
		remote, err := agent.NewRemoteAgent(agent.Descriptor{
			Name:         a.Name,
			Description:  a.Description,
			Instructions: a.Instructions,
			URL:          a.URL,
			Domain:       a.Domain,
		}, protoClient)
		if err != nil {
			return nil, fmt.Errorf("failed to build agent %q: %w", a.Name, err)
		}
		if err := registry.Register(remote); err != nil {
			return nil, fmt.Errorf("failed to register agent %q: %w", a.Name, err)
		}
	}

	dbPool := config.NewDBPool()
	defer dbPool.Close()

	store, err := cache.NewStoreFromConfig(ctx, cfg, dbPool)
	if err != nil {
		return nil, fmt.Errorf("failed to build cache: %w", err)
	}
	defer store.Close()

	opts := []scheduler.Option{
		scheduler.WithCache(store),
		scheduler.WithMetrics(metrics),
	}
	if len(cfg.QualityThresholds) > 0 {
		gate, err := quality.NewGate([]quality.Rule{
			quality.CompletenessRule{},
			quality.LengthRule{Min: 100},
		}, cfg.QualityThresholds)
		if err != nil {
			return nil, fmt.Errorf("failed to build quality gate: %w", err)
		}
		opts = append(opts, scheduler.WithGate(gate))
	}

	sched, err := scheduler.New(scheduler.Config{
		MaxParallel:    cfg.MaxParallel,
		RetryBudget:    cfg.RetryBudget,
		FailureMode:    scheduler.FailureMode(cfg.FailureMode),
		NodeTimeout:    cfg.NodeTimeout(),
		CacheNamespace: cfg.Cache.Namespace,
		CacheTTL:       cfg.CacheTTL(),
	}, agent.NewExecutor(registry), opts...)
	if err != nil {
		return nil, err
	}

	return sched.Run(ctx, buildGraph(wf))
}

// buildGraph converts a validated workflow definition into a graph. The
// definition was validated, so insertions cannot fail.
func buildGraph(wf *config.WorkflowConfig) *graph.Graph {
	g := graph.New()
	for _, t := range wf.Tasks {
		input := a2a.NewTextEnvelope(a2a.RoleUser, t.Input)
		input.TaskID = t.ID
		_ = g.AddNode(&graph.Node{
			ID:        t.ID,
			Agent:     t.Agent,
			DependsOn: t.DependsOn,
			Input:     input,
			NoCache:   t.NoCache,
		})
	}
	return g
}

func printReport(wf *config.WorkflowConfig, report *scheduler.Report) {
	fmt.Printf("workflow %s: %s (run %s, %s)\n",
		wf.Name, report.Status, report.RunID, report.Duration.Round(time.Millisecond))
	fmt.Printf("  completed: %d  failed: %d  skipped: %d  cache hits: %d\n",
		len(report.Completed), len(report.Failed), len(report.Skipped), report.CacheHits)
	for _, id := range report.Failed {
		fmt.Printf("  failed %s: %v\n", id, report.NodeErrors[id])
	}
	for _, id := range report.Skipped {
		fmt.Printf("  skipped %s\n", id)
	}
}

func loadConfig(path string) (*config.Config, error) {
	p, err := provider.NewFileProvider(path)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	loader := config.NewLoader(p)
	cfg, err := loader.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadWorkflow(path string) (*config.WorkflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	return config.ParseWorkflow(data)
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("tandem"),
		kong.Description("tandem - agent workflow orchestration"),
		kong.UsageOnError(),
	)

	logger.Init(firstNonEmpty(cli.LogLevel, "info"), firstNonEmpty(cli.LogFormat, "text"))

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
