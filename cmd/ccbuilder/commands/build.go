package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/ccbuilder/internal/builder"
	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

func newBuildCmd() *cobra.Command {
	var (
		configureFlags string
		force          bool
	)

	cmd := &cobra.Command{
		Use:   "build <gcc|llvm> <revision>",
		Short: "Build a compiler at a revision and print its install prefix",
		Long: `Build the given compiler project at the given revision, or return the
cached build if one exists. Patches recorded for the revision in the
patch database are applied automatically. The install prefix is printed
on success.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := compiler.ParseProject(args[0])
			if err != nil {
				return err
			}
			rev := repository.Revision(args[1])

			a := currentApp()
			ctx := cmd.Context()

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			db, err := a.openPatchDB()
			if err != nil {
				return err
			}
			repo, err := a.repo(ctx, project)
			if err != nil {
				return err
			}

			coord := a.coordinator(s, db, map[compiler.Project]*repository.Repo{project: repo})
			info, err := coord.Build(ctx, project, rev, builder.BuildOptions{
				ConfigureFlags: configureFlags,
				Force:          force,
			})
			if err != nil {
				return err
			}

			a.logger.Success("Built %s %s", project, info.Commit)
			fmt.Fprintln(cmd.OutOrStdout(), info.Prefix)
			return nil
		},
	}

	cmd.Flags().StringVar(&configureFlags, "additional-configure-flags", "",
		"Extra flags passed to configure/cmake")
	cmd.Flags().BoolVar(&force, "force", false,
		"Build even if a previous attempt at this commit failed")

	return cmd
}
