package main

import (
	"errors"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/3leaps/relmirror/internal/logger"
	"github.com/3leaps/relmirror/internal/mirror"
)

var errVerifyFailed = errors.New("mirror verification found mismatched or unreadable files")

func newVerifyCommand(common *commonOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-hash an existing mirror offline against its sidecars",
		Long: "verify walks the mirror tree without contacting any API. Every file that a\n" +
			"sidecar in its tag directory lists is hashed and compared. Interrupted\n" +
			"downloads and dangling or prerelease latest links are reported too.\n" +
			"Without --repo or configured urls every owner/repo directory is checked.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, common)
		},
	}
}

func runVerify(cmd *cobra.Command, common *commonOptions) error {
	st, err := loadSettings(common, nil)
	if err != nil {
		return err
	}
	// An empty target list audits everything, so bail out if every entry was bad.
	if len(st.Targets) == 0 && st.TargetErrs != nil {
		return st.TargetErrs
	}
	auditor := &mirror.Auditor{BaseDir: st.BaseDir, Policy: st.Policy, Log: logger.Logger()}
	report, err := auditor.Audit(repoTargets(st.Targets))
	if err != nil {
		return err
	}
	if err := report.Render(cmd.OutOrStdout(), common.output); err != nil {
		return err
	}
	var errs *multierror.Error
	if st.TargetErrs != nil {
		errs = multierror.Append(errs, st.TargetErrs)
	}
	if report.Failed() {
		errs = multierror.Append(errs, errVerifyFailed)
	}
	return errs.ErrorOrNil()
}
