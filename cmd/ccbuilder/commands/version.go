package commands

import (
	"fmt"

	goversion "github.com/caarlos0/go-version"
	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/ccbuilder/internal"
)

func buildVersion() goversion.Info {
	return goversion.GetVersionInfo(
		goversion.WithAppDetails("ccbuilder",
			"Build and cache GCC and LLVM at arbitrary revisions",
			"https://github.com/altuslabsxyz/ccbuilder"),
		func(i *goversion.Info) {
			if internal.Version != "" {
				i.GitVersion = internal.Version
			}
			if internal.GitCommit != "" {
				i.GitCommit = internal.GitCommit
			}
			if internal.BuildDate != "" {
				i.BuildDate = internal.BuildDate
			}
		},
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), buildVersion().String())
			return nil
		},
	}
}
