package transfer

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/memory"
)

// SchemaVersion is written to the header line of every export.
const SchemaVersion = "1.0"

// ExportInput contains parameters for Export.
type ExportInput struct {
	Path   string        // optional, default: <exports dir>/<status|all>-<timestamp>.jsonl
	Status memory.Status // optional filter
}

// ExportOutput contains the result of Export.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Header is the first line of an export file.
type Header struct {
	OverseerExport bool   `json:"_overseer_export"`
	SchemaVersion  string `json:"schema_version"`
	ExportedAt     int64  `json:"exported_at"`
}

// Export writes streams, one JSON object per line after the header, in creation order.
// The file is written to a temp name and renamed into place, so an existing export is
// preserved on failure.
func Export(ctx context.Context, store *memory.Store, opts Options, input ExportInput) (*ExportOutput, error) {
	if input.Status != "" && input.Status != memory.StatusActive && input.Status != memory.StatusArchived {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid status %q", input.Status))
	}

	now := time.Now()
	exportPath := input.Path
	if exportPath == "" {
		if opts.ExportsDir == "" {
			return nil, errors.NewInvalidRequest("path is required")
		}
		name := "all"
		if input.Status != "" {
			name = SanitizeForFilename(string(input.Status))
		}
		exportPath = filepath.Join(opts.ExportsDir, fmt.Sprintf("%s-%s.jsonl", name, now.Format("2006-01-02T150405")))
	}

	if err := ValidatePath(exportPath, PathCheckWrite, opts); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	if err := enc.Encode(Header{OverseerExport: true, SchemaVersion: SchemaVersion, ExportedAt: now.Unix()}); err != nil {
		return nil, errors.NewInternal(err)
	}

	count := 0
	for _, summary := range store.List() {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("export cancelled: %w", err))
		}
		if input.Status != "" && summary.Status != input.Status {
			continue
		}
		stream, ok := store.Get(summary.ID)
		if !ok {
			continue
		}
		if err := enc.Encode(stream); err != nil {
			return nil, errors.NewInternal(err)
		}
		count++
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{Path: exportPath, Count: count, ExportedAt: now.Unix()}, nil
}
