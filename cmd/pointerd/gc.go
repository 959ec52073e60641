package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pointerdev/pointer/internal/gc"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run one garbage collection sweep",
	Long:  "Collects content blobs no file pointer references, cascading through symbols, name cache refs, manifests, and chunks.",
	Args:  cobra.NoArgs,
	RunE:  runGC,
}

func runGC(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.collector().Sweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Collected %d blobs and %d chunks in %s\n",
		result.BlobsDeleted, result.ChunksDeleted, result.Duration)
	return nil
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove indexed commits or repositories",
}

var pruneCommitCmd = &cobra.Command{
	Use:   "commit <repository> <sha>",
	Short: "Remove one commit's file pointers",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.collector().PruneCommit(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d file pointers; content reclaimed on next gc\n", deleted)
		return nil
	},
}

var pruneRepoCmd = &cobra.Command{
	Use:   "repo <repository>",
	Short: "Remove a repository's file pointers and policies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.collector().PruneRepository(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d file pointers; content reclaimed on next gc\n", deleted)
		return nil
	},
}

func init() {
	pruneCmd.AddCommand(pruneCommitCmd)
	pruneCmd.AddCommand(pruneRepoCmd)
}

func (a *app) collector() *gc.Collector {
	return gc.New(a.db, a.log,
		gc.WithMinBlobAge(a.cfg.GC.MinBlobAge.Std()),
		gc.WithBatchSize(a.cfg.GC.BatchSize),
	)
}
