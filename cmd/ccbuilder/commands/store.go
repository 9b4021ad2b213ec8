package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and maintain the compiler store",
	}
	cmd.AddCommand(
		newStoreStatsCmd(),
		newStoreScanCmd(),
		newStoreClosestCmd(),
		newStoreClearUnfinishedCmd(),
		newStorePrintFailedCmd(),
		newStoreClearFailedCmd(),
	)
	return cmd
}

func newStoreStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many compilers are built per project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := currentApp()
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.Stats()
			if err != nil {
				return err
			}
			failed, err := s.FailedBuilds()
			if err != nil {
				return err
			}

			for _, project := range compiler.Projects() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d built\n", project, stats[project])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "failed build attempts: %d\n", len(failed))
			return nil
		},
	}
}

func newStoreScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the store directory and register finished builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := currentApp()
			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.Reconcile(ctx, a.storePath)
			if err != nil {
				return err
			}
			a.logger.Success("Registered %d built compilers from %s", n, a.storePath)
			return nil
		},
	}
}

func newStoreClosestCmd() *cobra.Command {
	var lower, upper string
	cmd := &cobra.Command{
		Use:   "closest <gcc|llvm> <revision>",
		Short: "Find an already-built compiler near a revision",
		Long: `Find an already-built compiler for the revision, or the nearest built
one on the first-parent path between --lower and --upper (bounds
excluded). Prints its install prefix, or nothing when no substitute
exists.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := currentApp()
			ctx := cmd.Context()

			project, err := compiler.ParseProject(args[0])
			if err != nil {
				return err
			}
			repo, err := a.repo(ctx, project)
			if err != nil {
				return err
			}
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			info, err := s.ClosestBuiltInRange(ctx, project,
				repository.Revision(args[1]), repository.Revision(lower), repository.Revision(upper), repo)
			if err != nil {
				return err
			}
			if info == nil {
				a.logger.Warn("No built compiler near %s %s", project, args[1])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.Prefix)
			return nil
		},
	}
	cmd.Flags().StringVar(&lower, "lower", "", "Older bound of the search range")
	cmd.Flags().StringVar(&upper, "upper", "trunk", "Newer bound of the search range")
	cmd.MarkFlagRequired("lower")
	return cmd
}

func newStoreClearUnfinishedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-unfinished",
		Short: "Remove install directories of dead, unfinished builds",
		Long: `Remove every install directory in the store that has neither a success
marker nor a live builder process. Use this after a build worker crashed
or was killed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := currentApp()
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			coord := a.coordinator(s, nil, nil)
			removed, err := coord.CleanUnfinished(a.storePath)
			if err != nil {
				return err
			}
			for _, prefix := range removed {
				a.logger.Info("Removed %s", prefix)
			}
			a.logger.Success("Removed %d unfinished builds", len(removed))
			return nil
		},
	}
}

func newStorePrintFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-failed",
		Short: "List commits whose builds have failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := currentApp()
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			failed, err := s.FailedBuilds()
			if err != nil {
				return err
			}
			for _, f := range failed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", f.Project, f.Commit)
			}
			return nil
		},
	}
}

func newStoreClearFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Forget all recorded build failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := currentApp()
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ClearFailures(); err != nil {
				return err
			}
			a.logger.Success("Cleared the failed-build history")
			return nil
		},
	}
}
