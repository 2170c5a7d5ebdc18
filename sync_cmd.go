package main

import (
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/3leaps/relmirror/internal/download"
	"github.com/3leaps/relmirror/internal/host"
	"github.com/3leaps/relmirror/internal/host/github"
	"github.com/3leaps/relmirror/internal/hostenv"
	"github.com/3leaps/relmirror/internal/logger"
	"github.com/3leaps/relmirror/internal/mirror"
	"github.com/3leaps/relmirror/internal/network"
	"github.com/3leaps/relmirror/internal/ratelimit"
)

type syncOptions struct {
	proxy       string
	token       string
	gitlabToken string
	dryRun      bool
	noProgress  bool
}

func addSyncFlags(fs *pflag.FlagSet, o *syncOptions) {
	fs.StringVar(&o.proxy, "proxy", "", "http proxy as host:port (overrides config)")
	fs.StringVar(&o.token, "token", "", "GitHub token (overrides config and environment)")
	fs.StringVar(&o.gitlabToken, "gitlab-token", "", "GitLab private token (overrides config and environment)")
	fs.BoolVarP(&o.dryRun, "dry-run", "n", false, "show what would be downloaded without writing anything")
	fs.BoolVar(&o.noProgress, "no-progress", false, "do not draw download progress bars (they are only drawn on a terminal)")
}

func newSyncCommand(common *commonOptions) *cobra.Command {
	opts := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download every missing release asset and update latest links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, common, opts)
		},
	}
	addSyncFlags(cmd.Flags(), opts)
	return cmd
}

func runSync(cmd *cobra.Command, common *commonOptions, opts *syncOptions) error {
	log := logger.Logger()
	st, err := loadSettings(common, opts)
	if err != nil {
		return err
	}
	if len(st.Targets) == 0 {
		if st.TargetErrs != nil {
			return st.TargetErrs
		}
		log.Warnw("no repositories configured")
		return nil
	}
	if st.TargetErrs != nil {
		log.Errorw("skipping unusable repository entries", "err", st.TargetErrs)
	}

	if opts.dryRun {
		log.Infow("dry run, nothing will be written", "base_dir", st.BaseDir)
	} else {
		if err := hostenv.CheckWritable(st.BaseDir); err != nil {
			return err
		}
		lock, err := mirror.AcquireLock(st.BaseDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warnw("release lock", "err", err)
			}
		}()
	}

	client, err := network.NewClient(st.Proxy)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(ratelimit.WithLogger(log))
	transport := host.NewTransport(client, limiter, github.UserAgent(version), log)
	providers := mirror.NewProviders(transport, mirror.ProviderConfig{
		GitHubAPI:   github.APIBaseFromEnv(),
		GitHubToken: st.GitHubToken,
		GitLabToken: st.GitLabToken,
	})

	commitOpts := []download.Option{download.WithRetry(transport.Retry)}
	if !opts.noProgress && isTerminal(cmd.ErrOrStderr()) {
		commitOpts = append(commitOpts, download.WithProgress(cmd.ErrOrStderr()))
	}
	syncer := mirror.New(mirror.Options{
		BaseDir:        st.BaseDir,
		DryRun:         opts.dryRun,
		ConflictPolicy: st.Policy,
	}, providers, log, commitOpts...)

	report, syncErr := syncer.SyncAll(cmd.Context(), st.Targets)
	var errs *multierror.Error
	if st.TargetErrs != nil {
		errs = multierror.Append(errs, st.TargetErrs)
	}
	if syncErr != nil {
		errs = multierror.Append(errs, syncErr)
	}
	if err := report.Render(cmd.OutOrStdout(), common.output); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// isTerminal reports whether w is an interactive terminal; progress bars
// would only clutter redirected output.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
