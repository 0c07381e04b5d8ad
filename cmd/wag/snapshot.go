package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/snapshot"
	"github.com/untoldecay/waggle/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Write cell and memory snapshots as JSONL",
	Long: `Write the current cells and memories to JSONL snapshot files.

Snapshots are git-friendly: one object per line, stable ordering, no
embeddings. Paths default to the project .waggle directory and can be
pinned in config (snapshot.cells_path, snapshot.memories_path).

Examples:
  wag export
  wag export --cells /tmp/cells.jsonl`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cellsPath, memsPath := snapshotPaths(cmd)

		cells, err := snapSvc.ExportCells(rootCtx, cellsPath)
		if err != nil {
			FatalErrorRespectJSON("exporting cells: %v", err)
		}
		memories, err := snapSvc.ExportMemories(rootCtx, memsPath)
		if err != nil {
			FatalErrorRespectJSON("exporting memories: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"cells_path":    cellsPath,
				"cells":         cells,
				"memories_path": memsPath,
				"memories":      memories,
			})
			return
		}
		fmt.Printf("%s wrote %d cells to %s\n", ui.RenderPass("✓"), cells, cellsPath)
		fmt.Printf("%s wrote %d memories to %s\n", ui.RenderPass("✓"), memories, memsPath)
	},
}

var importCmd = &cobra.Command{
	Use:     "import",
	GroupID: "data",
	Short:   "Fold JSONL snapshots back into the store",
	Long: `Read snapshot files and import records that are not in the store yet.

Imported cells enter through the event log as synthetic history, so a
later rebuild keeps them. Existing ids are skipped; a bad line fails
alone and is reported, the rest of the batch still lands.

Examples:
  wag import
  wag import --cells ./handoff/cells.jsonl`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cellsPath, memsPath := snapshotPaths(cmd)

		cellReport := importSnapshot(cellsPath, cmd.Flags().Changed("cells"), func(r io.Reader) (*snapshot.Report, error) {
			return snapSvc.ImportCells(rootCtx, r, actor)
		})
		memReport := importSnapshot(memsPath, cmd.Flags().Changed("memories"), func(r io.Reader) (*snapshot.Report, error) {
			return snapSvc.ImportMemories(rootCtx, r)
		})
		if cellReport == nil && memReport == nil {
			FatalErrorRespectJSON("no snapshot found at %s or %s", cellsPath, memsPath)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"cells":    cellReport,
				"memories": memReport,
			})
			return
		}
		if cellReport != nil {
			renderImportReport("cells", cellReport)
		}
		if memReport != nil {
			renderImportReport("memories", memReport)
		}
	},
}

func snapshotPaths(cmd *cobra.Command) (string, string) {
	cellsPath, _ := cmd.Flags().GetString("cells")
	memsPath, _ := cmd.Flags().GetString("memories")
	if cellsPath == "" {
		cellsPath = config.CellsSnapshotPath()
	}
	if memsPath == "" {
		memsPath = config.MemoriesSnapshotPath()
	}
	return cellsPath, memsPath
}

// importSnapshot opens and imports one snapshot file. A missing file at
// the default location is not an error; a missing explicit path is.
func importSnapshot(path string, explicit bool, fn func(io.Reader) (*snapshot.Report, error)) *snapshot.Report {
	f, err := os.Open(path) // #nosec G304 -- path chosen by the operator
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		FatalErrorRespectJSON("opening snapshot: %v", err)
	}
	defer func() { _ = f.Close() }()

	report, err := fn(f)
	if err != nil {
		FatalErrorRespectJSON("importing %s: %v", path, err)
	}
	return report
}

func renderImportReport(label string, report *snapshot.Report) {
	line := fmt.Sprintf("%s %s: %d imported, %d skipped", ui.RenderPass("✓"), label, report.Imported, report.Skipped)
	if len(report.Failed) > 0 {
		line += ", " + ui.RenderFail(fmt.Sprintf("%d failed", len(report.Failed)))
	}
	fmt.Println(line)
	for _, fail := range report.Failed {
		fmt.Printf("  line %d: %s\n", fail.Line, fail.Reason)
	}
}

func init() {
	exportCmd.Flags().String("cells", "", "Cell snapshot path (default from config)")
	exportCmd.Flags().String("memories", "", "Memory snapshot path (default from config)")
	importCmd.Flags().String("cells", "", "Cell snapshot path (default from config)")
	importCmd.Flags().String("memories", "", "Memory snapshot path (default from config)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
