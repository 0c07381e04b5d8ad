package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/debug"
	"github.com/untoldecay/waggle/internal/snapshot"
)

// fileStamp identifies a snapshot file state we wrote ourselves, so the
// watcher can tell our exports apart from external changes.
type fileStamp struct {
	mod  time.Time
	size int64
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "data",
	Short:   "Keep snapshot files and the store in sync",
	Long: `Run a foreground sync loop until interrupted.

On an interval the loop exports snapshots when cells changed; when
something else rewrites a snapshot file (git checkout, another agent's
export) the new records are imported back. Activity goes to a rotating
log under the project .waggle directory.

Examples:
  wag watch
  wag watch --interval 10s`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		intervalRaw, _ := cmd.Flags().GetString("interval")
		interval, err := parseDurationFlag(intervalRaw)
		if err != nil {
			FatalErrorRespectJSON("invalid --interval: %v", err)
		}

		cellsPath := config.CellsSnapshotPath()
		memsPath := config.MemoriesSnapshotPath()
		logPath := watchLogPath()
		logger := watchLogger(logPath)

		var mu sync.Mutex
		own := map[string]fileStamp{}
		noteOwnWrite := func(path string) {
			st, err := os.Stat(path)
			if err != nil {
				return
			}
			mu.Lock()
			own[path] = fileStamp{mod: st.ModTime(), size: st.Size()}
			mu.Unlock()
		}
		isOwnWrite := func(path string) bool {
			st, err := os.Stat(path)
			if err != nil {
				return false
			}
			mu.Lock()
			defer mu.Unlock()
			stamp, ok := own[path]
			return ok && stamp.mod.Equal(st.ModTime()) && stamp.size == st.Size()
		}

		exportBoth := func() {
			if n, err := snapSvc.ExportCells(rootCtx, cellsPath); err != nil {
				logger.Error("watch: cell export failed", "error", err)
			} else {
				noteOwnWrite(cellsPath)
				logger.Info("watch: exported cells", "count", n, "path", cellsPath)
			}
			if n, err := snapSvc.ExportMemories(rootCtx, memsPath); err != nil {
				logger.Error("watch: memory export failed", "error", err)
			} else {
				noteOwnWrite(memsPath)
				logger.Info("watch: exported memories", "count", n, "path", memsPath)
			}
		}
		importCells := func() {
			if isOwnWrite(cellsPath) {
				logger.Debug("watch: ignoring own cell export")
				return
			}
			report := importSnapshotQuiet(cellsPath, logger, func(r io.Reader) (*snapshot.Report, error) {
				return snapSvc.ImportCells(rootCtx, r, actor)
			})
			if report != nil && (report.Imported > 0 || len(report.Failed) > 0) {
				logger.Info("watch: imported cells",
					"imported", report.Imported, "skipped", report.Skipped, "failed", len(report.Failed))
			}
		}
		importMemories := func() {
			if isOwnWrite(memsPath) {
				logger.Debug("watch: ignoring own memory export")
				return
			}
			report := importSnapshotQuiet(memsPath, logger, func(r io.Reader) (*snapshot.Report, error) {
				return snapSvc.ImportMemories(rootCtx, r)
			})
			if report != nil && (report.Imported > 0 || len(report.Failed) > 0) {
				logger.Info("watch: imported memories",
					"imported", report.Imported, "skipped", report.Skipped, "failed", len(report.Failed))
			}
		}

		// Fold in whatever is already on disk before the first export
		// overwrites it. A fresh clone's snapshots land here.
		importCells()
		importMemories()
		exportBoth()

		cellWatcher, err := snapshot.NewWatcher(cellsPath, importCells, logger)
		if err != nil {
			FatalErrorRespectJSON("watching %s: %v", cellsPath, err)
		}
		defer func() { _ = cellWatcher.Close() }()
		memWatcher, err := snapshot.NewWatcher(memsPath, importMemories, logger)
		if err != nil {
			FatalErrorRespectJSON("watching %s: %v", memsPath, err)
		}
		defer func() { _ = memWatcher.Close() }()
		cellWatcher.Start(rootCtx)
		memWatcher.Start(rootCtx)

		fmt.Printf("Watching %s\n", cellsPath)
		fmt.Printf("Watching %s\n", memsPath)
		fmt.Printf("Logging to %s. Ctrl-C to stop.\n", logPath)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				dirty, err := snapSvc.DirtyCount(rootCtx)
				if err != nil {
					logger.Error("watch: dirty count failed", "error", err)
					continue
				}
				if dirty > 0 {
					logger.Debug("watch: dirty cells pending", "count", dirty)
					exportBoth()
				}
			case <-rootCtx.Done():
				fmt.Println("\nStopping watch.")
				return
			}
		}
	},
}

func watchLogPath() string {
	dir := config.WaggleDir()
	if dir == "" {
		dir = filepath.Join(projectPath, ".waggle")
	}
	return filepath.Join(dir, "watch.log")
}

// watchLogger logs to a size-rotated file; the terminal stays quiet
// apart from startup lines so the command can run for days.
func watchLogger(path string) *slog.Logger {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}
	level := slog.LevelInfo
	if debug.Enabled() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(rotator, &slog.HandlerOptions{Level: level}))
}

// importSnapshotQuiet is the watch-loop variant of importSnapshot:
// errors are logged, never fatal, so one bad rewrite cannot kill the
// loop.
func importSnapshotQuiet(path string, logger *slog.Logger, fn func(io.Reader) (*snapshot.Report, error)) *snapshot.Report {
	f, err := os.Open(path) // #nosec G304 -- path from project config
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("watch: opening snapshot failed", "path", path, "error", err)
		}
		return nil
	}
	defer func() { _ = f.Close() }()

	report, err := fn(f)
	if err != nil {
		logger.Error("watch: import failed", "path", path, "error", err)
		return nil
	}
	return report
}

func init() {
	watchCmd.Flags().String("interval", "30s", "How often to check for unexported changes")

	rootCmd.AddCommand(watchCmd)
}
