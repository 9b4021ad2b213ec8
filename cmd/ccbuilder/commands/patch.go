package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

func newPatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Locate introducer and fixer commits and patch ranges",
	}
	cmd.AddCommand(
		newPatchFindRangesCmd(),
		newPatchFindIntroducerCmd(),
	)
	return cmd
}

func newPatchFindRangesCmd() *cobra.Command {
	var patches []string

	cmd := &cobra.Command{
		Use:   "find-ranges <gcc|llvm> <revision>",
		Short: "Find the commit range needing the given patches",
		Long: `Given a revision known to build only with the given patches, find the
contiguous range of commits requiring them and record it in the patch
database. This bisects against the release tags and can trigger many
builds.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(patches) == 0 {
				return fmt.Errorf("at least one --patch is required")
			}
			project, err := compiler.ParseProject(args[0])
			if err != nil {
				return err
			}

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

			repos := map[compiler.Project]*repository.Repo{project: repo}
			coord := a.coordinator(s, db, repos)
			p := a.patcher(coord, db, repos)

			return p.FindRanges(ctx, project, repository.Revision(args[1]), patches)
		},
	}

	cmd.Flags().StringArrayVar(&patches, "patch", nil,
		"Patch file needed by the revision (repeatable)")

	return cmd
}

func newPatchFindIntroducerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find-introducer <gcc|llvm> <broken-revision>",
		Short: "Find the commit that introduced a build failure",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := compiler.ParseProject(args[0])
			if err != nil {
				return err
			}

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

			repos := map[compiler.Project]*repository.Repo{project: repo}
			coord := a.coordinator(s, db, repos)
			p := a.patcher(coord, db, repos)

			introducer, err := p.FindIntroducer(ctx, project, repository.Revision(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), introducer)
			return nil
		},
	}
}
