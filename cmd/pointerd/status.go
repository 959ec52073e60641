package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.db.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Blobs:      %d\n", stats.Blobs)
		fmt.Printf("Chunks:     %d\n", stats.Chunks)
		fmt.Printf("Files:      %d\n", stats.Files)
		fmt.Printf("Symbols:    %d\n", stats.Symbols)
		fmt.Printf("References: %d\n", stats.References)
		fmt.Printf("Names:      %d\n", stats.Names)
		fmt.Printf("Snapshots:  %d\n", stats.Snapshots)
		fmt.Printf("Size:       %.2f MB\n", stats.SizeMB)
		return nil
	},
}
