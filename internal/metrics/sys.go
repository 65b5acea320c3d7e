package metrics

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// SysHealth is a point-in-time view of the process and its on-disk data.
type SysHealth struct {
	AllocMB    uint64
	SysMB      uint64
	NumGC      uint32
	Goroutines int
	// DatabaseBytes counts the SQLite file together with its -wal and -shm
	// companions.
	DatabaseBytes int64
	ExportBytes   int64
	ExportFiles   int
}

// GetSysHealth collects runtime statistics and the size of the workout
// database and of the export directory.
func GetSysHealth(databasePath, exportDir string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	exportBytes, exportFiles := dirUsage(exportDir)
	return SysHealth{
		AllocMB:       m.Alloc / 1024 / 1024,
		SysMB:         m.Sys / 1024 / 1024,
		NumGC:         m.NumGC,
		Goroutines:    runtime.NumGoroutine(),
		DatabaseBytes: databaseSize(databasePath),
		ExportBytes:   exportBytes,
		ExportFiles:   exportFiles,
	}
}

func databaseSize(path string) int64 {
	if path == "" || path == ":memory:" {
		return 0
	}
	var size int64
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if info, err := os.Stat(p); err == nil {
			size += info.Size()
		}
	}
	return size
}

func dirUsage(dir string) (int64, int) {
	var (
		size  int64
		files int
	)
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size += info.Size()
		files++
		return nil
	})
	return size, files
}

// FormatBytes renders n with a binary unit, e.g. "1.5 MB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
