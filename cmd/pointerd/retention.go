package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pointerdev/pointer/internal/retention"
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Manage branch retention policies",
}

var retentionSetCmd = &cobra.Command{
	Use:   "set <repository> <branch> <keep>",
	Short: "Keep the newest N snapshots of a branch",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("keep count %q: %w", args[2], err)
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.retention().SetBranchPolicy(cmd.Context(), args[0], args[1], keep); err != nil {
			return err
		}
		fmt.Printf("Policy set: %s/%s keeps newest %d snapshots\n", args[0], args[1], keep)
		return nil
	},
}

var retentionTierAddCmd = &cobra.Command{
	Use:   "tier-add <repository> <branch> <interval> <keep>",
	Short: "Add a thinning tier (e.g. 24h 7 keeps one snapshot per day for a week)",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, err := time.ParseDuration(args[2])
		if err != nil {
			return fmt.Errorf("interval %q: %w", args[2], err)
		}
		keep, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("keep count %q: %w", args[3], err)
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.retention().AddSnapshotTier(cmd.Context(), args[0], args[1], interval, keep); err != nil {
			return err
		}
		fmt.Printf("Tier added: %s/%s keeps %d per %s\n", args[0], args[1], keep, interval)
		return nil
	},
}

var retentionTierRmCmd = &cobra.Command{
	Use:   "tier-rm <repository> <branch> <interval>",
	Short: "Remove a thinning tier",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, err := time.ParseDuration(args[2])
		if err != nil {
			return fmt.Errorf("interval %q: %w", args[2], err)
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return a.retention().RemoveSnapshotTier(cmd.Context(), args[0], args[1], interval)
	},
}

var retentionRmCmd = &cobra.Command{
	Use:   "rm <repository> <branch>",
	Short: "Remove a branch policy with its tiers and snapshots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return a.retention().DeleteBranchPolicy(cmd.Context(), args[0], args[1])
	},
}

var retentionSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep over all policies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.retention().Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Swept %d policies: dropped %d snapshots, pruned %d commits (%d protected) in %s\n",
			result.PoliciesSwept, result.SnapshotsDropped, result.CommitsPruned,
			result.CommitsProtected, result.Duration)
		return nil
	},
}

var liveBranchCmd = &cobra.Command{
	Use:   "live-branch <repository> [branch [head-commit]]",
	Short: "Show or set the branch a repository is indexed from",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			branch, err := a.db.GetLiveBranch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(branch)
			return nil
		}
		head := ""
		if len(args) == 3 {
			head = args[2]
		}
		if err := a.retention().SetLiveBranch(cmd.Context(), args[0], args[1], head); err != nil {
			return err
		}
		fmt.Printf("Live branch for %s is now %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	retentionCmd.AddCommand(retentionSetCmd)
	retentionCmd.AddCommand(retentionTierAddCmd)
	retentionCmd.AddCommand(retentionTierRmCmd)
	retentionCmd.AddCommand(retentionRmCmd)
	retentionCmd.AddCommand(retentionSweepCmd)
}

func (a *app) retention() *retention.Engine {
	return retention.New(a.db, a.log)
}
