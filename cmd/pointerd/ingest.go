package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pointerdev/pointer/internal/contentstore"
	"github.com/pointerdev/pointer/internal/ingest"
	"github.com/pointerdev/pointer/internal/namecache"
	"github.com/pointerdev/pointer/pkg/types"
)

var flagIngestWorkers int

var ingestCmd = &cobra.Command{
	Use:   "ingest <report.json>",
	Short: "Index one extractor report",
	Long:  "Reads a JSON report of files, symbols, and references for a single commit and writes it into the index.",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&flagIngestWorkers, "workers", 0, "concurrent ingest batches (default: config / NumCPU)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	var report types.IndexReport
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("parse report %s: %w", args[0], err)
	}

	names := namecache.NewMaintainer(a.db, a.log, a.cfg.NameCache.QueueSize, a.cfg.NameCache.BatchSize)
	names.Start()
	defer names.Stop()

	workers := flagIngestWorkers
	if workers == 0 {
		workers = a.cfg.Ingest.Workers
	}
	indexer := ingest.New(a.db, contentstore.New(a.db, a.log), names, a.log)
	stats, err := indexer.IngestReport(cmd.Context(), &report, &ingest.Config{
		Workers:   workers,
		BatchSize: a.cfg.Ingest.BatchSize,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d files (%d symbols, %d references, %d records skipped) in %s\n",
		stats.FilesIndexed, stats.SymbolsStored, stats.RefsStored, stats.RecordsSkipped, stats.Duration)
	return nil
}
