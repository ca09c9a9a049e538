// Package cmd wires the CLI surface: flag parsing, config loading, Docker
// client setup, and the engine loop, following the same single
// cobra.Command-with-package-level-flag-vars shape the teacher pack uses for
// its subcommands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dfw-sh/dfwd/backend"
	"github.com/dfw-sh/dfwd/compiler"
	"github.com/dfw-sh/dfwd/config"
	"github.com/dfw-sh/dfwd/dockerevents"
	"github.com/dfw-sh/dfwd/dockertopo"
	"github.com/dfw-sh/dfwd/engine"
)

var (
	configFile             string
	configPath             string
	firewallBackend        string
	dockerURL              string
	loadInterval           time.Duration
	loadMode               string
	burstTimeout           time.Duration
	containerFilter        string
	disableEventMonitoring bool
	runOnce                bool
	dryRun                 bool
	checkConfig            bool
	logLevel               string
)

// rootCmd is the single always-on daemon command; this system has no
// subcommand tree since, unlike the teacher, it runs one synchronous loop
// rather than a family of one-shot lab operations.
var rootCmd = &cobra.Command{
	Use:     "dfwd",
	Short:   "Docker-aware firewall controller",
	PreRunE: validateFlags,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config-file", "", "path to a single policy file")
	rootCmd.Flags().StringVar(&configPath, "config-path", "", "path to a directory of *.toml policy fragments")
	rootCmd.Flags().StringVar(&firewallBackend, "firewall-backend", "nftables", "nftables|iptables")
	rootCmd.Flags().StringVar(&dockerURL, "docker-url", "unix:///var/run/docker.sock", "docker endpoint")
	rootCmd.Flags().DurationVar(&loadInterval, "load-interval", 0, "periodic reload interval, 0 disables")
	rootCmd.Flags().StringVar(&loadMode, "load-mode", "once", "once|always")
	rootCmd.Flags().DurationVar(&burstTimeout, "burst-timeout", 500*time.Millisecond, "event burst quiescence window")
	rootCmd.Flags().StringVar(&containerFilter, "container-filter", "running", "all|running")
	rootCmd.Flags().BoolVar(&disableEventMonitoring, "disable-event-monitoring", false, "")
	rootCmd.Flags().BoolVar(&runOnce, "run-once", false, "")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "")
	rootCmd.Flags().BoolVar(&checkConfig, "check-config", false, "")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level name")
}

// Execute runs the root command; called from main.
func Execute() error {
	return rootCmd.Execute()
}

func validateFlags(_ *cobra.Command, _ []string) error {
	if (configFile == "") == (configPath == "") {
		return config.ErrMutuallyExclusiveFlags
	}
	switch firewallBackend {
	case "nftables", "iptables":
	default:
		return fmt.Errorf("cmd: --firewall-backend must be nftables or iptables, got %q", firewallBackend)
	}
	switch containerFilter {
	case "all", "running":
	default:
		return fmt.Errorf("cmd: --container-filter must be all or running, got %q", containerFilter)
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("cmd: --log-level: %w", err)
	}
	log.SetLevel(level)

	policy, err := config.Load(configFile, configPath)
	if err != nil {
		return fmt.Errorf("cmd: load policy: %w", err)
	}

	if checkConfig {
		log.Info("cmd: configuration is valid")
		return nil
	}

	cli, err := client.NewClientWithOpts(client.WithHost(dockerURL), client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("cmd: docker client: %w", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	monitor := burstMonitor(burstTimeout)

	if !disableEventMonitoring {
		go func() {
			if err := dockerevents.Subscribe(ctx, cli, pingAdapter(monitor)); err != nil {
				log.Fatalf("cmd: docker event subscription: %v", err)
			}
		}()
	}

	var tick <-chan time.Time
	if loadInterval > 0 {
		ticker := time.NewTicker(loadInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var burstTrigger <-chan struct{}
	if !disableEventMonitoring {
		burstTrigger = monitor.Trigger()
	}

	loop := &engine.Loop{
		Cycle: func(ctx context.Context) error {
			active := policy
			if loadMode == "always" {
				reloaded, err := config.Load(configFile, configPath)
				if err != nil {
					return fmt.Errorf("cmd: reload policy: %w", err)
				}
				active = reloaded
			}
			return cycle(ctx, cli, active)
		},
		Signals: engine.SignalChannel(),
		Tick:    tick,
		Burst:   burstTrigger,
		RunOnce: runOnce,
	}

	return loop.Run(ctx)
}

func cycle(ctx context.Context, cli *client.Client, policy *config.Policy) error {
	filter := dockertopo.FilterRunning
	if containerFilter == "all" {
		filter = dockertopo.FilterAll
	}

	snap, err := dockertopo.NewSnapshot(ctx, cli, filter)
	if err != nil {
		return fmt.Errorf("cmd: snapshot: %w", err)
	}

	applier, err := buildBackend(ctx, policy, snap)
	if err != nil {
		return fmt.Errorf("cmd: compile: %w", err)
	}

	return applyBackend(ctx, applier, dryRun)
}

// applyBackend runs the compiled ruleset through the selected backend; split
// out from cycle so the Backend interface seam can be exercised with a mock.
func applyBackend(ctx context.Context, applier backend.Backend, dryRun bool) error {
	if err := applier.Apply(ctx, dryRun); err != nil {
		return fmt.Errorf("cmd: apply %s ruleset: %w", applier.Name(), err)
	}
	return nil
}

func buildBackend(ctx context.Context, policy *config.Policy, snap *dockertopo.Snapshot) (backend.Backend, error) {
	switch firewallBackend {
	case "iptables":
		rules, err := compiler.CompileIptables(policy, snap)
		if err != nil {
			return nil, err
		}
		return backend.NewIptables(rules), nil
	default:
		liveRuleset, err := backend.ListRuleset(ctx)
		if err != nil {
			log.Warnf("cmd: could not read live ruleset, custom-table markers will not dedupe: %v", err)
			liveRuleset = ""
		}
		rules, err := compiler.CompileNftables(policy, snap, liveRuleset)
		if err != nil {
			return nil, err
		}
		return backend.NewNftables(rules), nil
	}
}
