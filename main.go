package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/3leaps/relmirror/internal/logger"
	"github.com/3leaps/relmirror/internal/mirror"
)

var version = "dev"

const examples = `  relmirror -c mirror.toml
  relmirror -c mirror.toml --dry-run
  relmirror --repo trufflesecurity/trufflehog --base-dir ./mirror
  relmirror --repo https://gitlab.com/gitlab-org/gitlab-runner --base-dir ./mirror
  relmirror --repo gl:gitlab-org/gitlab-runner --base-dir ./mirror --gitlab-token TOKEN
  relmirror verify -c mirror.toml`

// commonOptions are shared by sync and verify.
type commonOptions struct {
	configPath     string
	baseDir        string
	repos          []string
	output         string
	conflictPolicy string
	verbose        bool
	logLevel       string
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	common := &commonOptions{}
	syncOpts := &syncOptions{}

	root := &cobra.Command{
		Use:           "relmirror",
		Short:         "Mirror GitHub and GitLab release assets into a local directory tree",
		Long:          "relmirror keeps a local copy of every release asset of the configured\nrepositories, verifying each file against its published sha256 digest.\nRunning it without a subcommand is the same as running sync.",
		Example:       examples,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging(common, cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, common, syncOpts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("relmirror {{.Version}}\n")

	addCommonFlags(root.PersistentFlags(), common)
	addSyncFlags(root.Flags(), syncOpts)

	root.AddCommand(newSyncCommand(common), newVerifyCommand(common), newVersionCommand())
	return root
}

func addCommonFlags(fs *pflag.FlagSet, o *commonOptions) {
	fs.StringVarP(&o.configPath, "config", "c", "", "path to config file (toml or yaml)")
	fs.StringVar(&o.baseDir, "base-dir", "", "mirror root directory (overrides config)")
	fs.StringArrayVar(&o.repos, "repo", nil, "repository to work on: owner/repo, a GitHub/GitLab url, or a gh:/gl: prefixed path (repeatable)")
	fs.StringVar(&o.output, "output", mirror.FormatText, "report format: text, json or yaml")
	fs.StringVar(&o.conflictPolicy, "conflict-policy", "", "what to do when sidecars disagree: last-wins, first-wins or error (overrides config)")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
}

func initLogging(o *commonOptions, w io.Writer) error {
	level := o.logLevel
	if o.verbose {
		level = "debug"
	}
	_, err := logger.Init(level, w)
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relmirror version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "relmirror %s\n", version)
			return err
		},
	}
}
