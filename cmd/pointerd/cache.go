package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pointerdev/pointer/internal/namecache"
)

var (
	flagCacheShards     int
	flagCacheBatch      int
	flagCacheMaxBatches int
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Administer the symbol name cache",
}

var cacheRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Repopulate the name cache from the symbol table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := namecache.Rebuild(cmd.Context(), a.db, a.log, flagCacheShards)
		if err != nil {
			return err
		}
		fmt.Printf("Rebuilt over %d shards: %d names, %d refs inserted in %s\n",
			result.ShardCount, result.InsertedNames, result.InsertedRefs, result.Duration)
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove name cache rows whose symbols are gone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := namecache.Cleanup(cmd.Context(), a.db, a.log, flagCacheBatch, flagCacheMaxBatches)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d refs and %d names in %d batches", result.DeletedRefs, result.DeletedNames, result.Batches)
		if !result.Exhausted {
			fmt.Printf(" (more remain, run again)")
		}
		fmt.Println()
		return nil
	},
}

func init() {
	cacheRebuildCmd.Flags().IntVar(&flagCacheShards, "shards", 4, "parallel rebuild shards")
	cacheCleanupCmd.Flags().IntVar(&flagCacheBatch, "batch", 1000, "rows deleted per batch")
	cacheCleanupCmd.Flags().IntVar(&flagCacheMaxBatches, "max-batches", 100, "batches per surface before stopping")

	cacheCmd.AddCommand(cacheRebuildCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
}
