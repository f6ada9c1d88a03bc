package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/minnowchess/minnow/internal"
	"github.com/minnowchess/minnow/internal/journal"
	"github.com/minnowchess/minnow/internal/update"
)

// commonFlags are shared between the root command and "run".
type commonFlags struct {
	conf          string
	noConf        bool
	endpoint      string
	key           string
	cores         string
	engine        string
	userBacklog   string
	systemBacklog string
	metricsAddr   string
	journal       string
	verbose       bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.conf, "conf", "", "configuration file (default \""+internal.DefaultConfigFile+"\")")
	cmd.Flags().BoolVar(&f.noConf, "no-conf", false, "do not read a configuration file")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "queue endpoint URL")
	cmd.Flags().StringVar(&f.key, "key", "", "API key")
	cmd.Flags().StringVar(&f.cores, "cores", "", "engine workers: a number, \"auto\", or \"all\"")
	cmd.Flags().StringVar(&f.engine, "engine", "", "engine binary")
	cmd.Flags().StringVar(&f.userBacklog, "user-backlog", "", "only join the queue when user jobs wait this long")
	cmd.Flags().StringVar(&f.systemBacklog, "system-backlog", "", "only join the queue when system jobs wait this long")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&f.journal, "journal", "", "journal database path (\"\" disables)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
}

// load builds the effective configuration: defaults, file, environment,
// then flags.
func (f *commonFlags) load(cmd *cobra.Command, environ []string) (internal.Config, error) {
	config, err := internal.LoadConfig(f.conf, f.noConf, environ)
	if err != nil {
		return internal.Config{}, err
	}

	if cmd.Flags().Changed("endpoint") {
		config.Endpoint = f.endpoint
	}
	if cmd.Flags().Changed("key") {
		config.Key = f.key
	}
	if cmd.Flags().Changed("cores") {
		config.Cores = f.cores
	}
	if cmd.Flags().Changed("engine") {
		config.Engine.Path = f.engine
	}
	if cmd.Flags().Changed("user-backlog") {
		config.Backlog.User = f.userBacklog
	}
	if cmd.Flags().Changed("system-backlog") {
		config.Backlog.System = f.systemBacklog
	}
	if cmd.Flags().Changed("metrics-addr") {
		config.MetricsAddr = f.metricsAddr
	}
	if cmd.Flags().Changed("journal") {
		config.Journal = f.journal
	}

	if err := config.Validate(); err != nil {
		return internal.Config{}, err
	}
	return config, nil
}

func newRootCommand(environ []string) *cobra.Command {
	flags := &commonFlags{}

	root := &cobra.Command{
		Use:           "minnow",
		Short:         "minnow is a distributed chess analysis worker",
		Long:          "minnow fetches chess positions from a remote analysis queue,\nruns a UCI engine against them, and reports the results back.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, flags, environ)
		},
	}
	flags.register(root)

	runFlags := &commonFlags{}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker (the default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, runFlags, environ)
		},
	}
	runFlags.register(runCmd)

	root.AddCommand(
		runCmd,
		newConfigureCommand(environ),
		newStatsCommand(environ),
		newUpdateCommand(environ),
		newSystemdCommand(environ),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "minnow %s\n", version)
		},
	}
}

func newConfigureCommand(environ []string) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Interactively write a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := internal.LoadConfig(path, false, environ)
			if err != nil {
				// Start from defaults when the existing file is unreadable.
				config = internal.DefaultConfig()
			}

			in := bufio.NewScanner(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			prompt := func(label, current string) string {
				fmt.Fprintf(out, "%s [%s]: ", label, current)
				if !in.Scan() {
					return current
				}
				answer := strings.TrimSpace(in.Text())
				if answer == "" {
					return current
				}
				return answer
			}

			config.Endpoint = prompt("Queue endpoint", config.Endpoint)
			config.Key = prompt("API key", config.Key)
			config.Cores = prompt("Engine workers (number, auto, all)", config.Cores)
			config.Engine.Path = prompt("Engine binary", config.Engine.Path)
			config.Backlog.User = prompt("User backlog (empty, short, long, or duration)", config.Backlog.User)
			config.Backlog.System = prompt("System backlog (empty, short, long, or duration)", config.Backlog.System)

			if err := config.Validate(); err != nil {
				return err
			}

			target := path
			if target == "" {
				target = internal.DefaultConfigFile
			}
			if err := internal.WriteConfig(target, config); err != nil {
				return err
			}

			fmt.Fprintf(out, "Wrote %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "conf", "", "configuration file to write (default \""+internal.DefaultConfigFile+"\")")
	return cmd
}

func newStatsCommand(environ []string) *cobra.Command {
	flags := &commonFlags{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print lifetime statistics from the local journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := flags.load(cmd, environ)
			if err != nil {
				return err
			}
			if config.Journal == "" {
				return fmt.Errorf("the journal is disabled\nSet journal in the configuration file or pass --journal")
			}

			j, err := journal.Open(config.Journal)
			if err != nil {
				return err
			}
			defer j.Close()

			summary, err := j.Summarize()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batches:   %d\n", summary.Batches)
			fmt.Fprintf(out, "Positions: %d\n", summary.Positions)
			fmt.Fprintf(out, "Nodes:     %d\n", summary.Nodes)
			fmt.Fprintf(out, "Mean nps:  %d\n", summary.MeanNPS)
			if summary.Batches > 0 {
				fmt.Fprintf(out, "First:     %s\n", summary.First.Format(time.RFC3339))
				fmt.Fprintf(out, "Last:      %s\n", summary.Last.Format(time.RFC3339))
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newUpdateCommand(environ []string) *cobra.Command {
	flags := &commonFlags{}
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the worker binary in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := flags.load(cmd, environ)
			if err != nil {
				return err
			}
			if config.UpdateURL == "" {
				return fmt.Errorf("no update manifest configured\nSet update_url in the configuration file")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			doer := &http.Client{Timeout: 5 * time.Minute}
			out := cmd.OutOrStdout()

			release, newer, err := update.Check(ctx, doer, config.UpdateURL, version)
			if err != nil {
				return err
			}
			if !newer {
				fmt.Fprintf(out, "minnow %s is up to date\n", version)
				return nil
			}

			if checkOnly {
				fmt.Fprintf(out, "minnow %s is available (running %s)\n", release.Version, version)
				return nil
			}

			if err := update.Apply(ctx, doer, release); err != nil {
				return err
			}
			fmt.Fprintf(out, "Updated to minnow %s; restart the worker to use it\n", release.Version)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&checkOnly, "check", false, "report available updates without installing")
	return cmd
}

func newSystemdCommand(environ []string) *cobra.Command {
	flags := &commonFlags{}

	cmd := &cobra.Command{
		Use:   "systemd",
		Short: "Print a systemd service unit for this worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := flags.load(cmd, environ); err != nil {
				return err
			}

			executable, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to locate the current executable: %w", err)
			}

			exec := executable + " run"
			if flags.conf != "" {
				conf, err := filepath.Abs(flags.conf)
				if err != nil {
					return fmt.Errorf("failed to resolve configuration path %q: %w", flags.conf, err)
				}
				exec += " --conf " + conf
			} else if flags.noConf {
				exec += " --no-conf"
			}

			fmt.Fprintf(cmd.OutOrStdout(), `[Unit]
Description=minnow chess analysis worker
After=network-online.target
Wants=network-online.target

[Service]
ExecStart=%s
WorkingDirectory=%s
Restart=on-failure
RestartSec=5
KillMode=mixed
TimeoutStopSec=120
Nice=5

[Install]
WantedBy=multi-user.target
`, exec, filepath.Dir(executable))
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
