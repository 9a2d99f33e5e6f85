// Package transfer exports memory streams to JSONL files and restores them.
package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/overseer/internal/config"
	"github.com/hpungsan/overseer/internal/errors"
)

// Options restricts where export and import files may live.
type Options struct {
	// ExportsDir is the default directory for exports, always allowed.
	ExportsDir string

	// AllowedPaths are extra absolute directories files may live directly in.
	AllowedPaths []string

	// AllowUnsafePaths lifts the directory restriction. Extension and symlink checks still apply.
	AllowUnsafePaths bool
}

// NewOptions derives Options from the config, with exports under baseDir/exports.
func NewOptions(baseDir string, cfg *config.Config) Options {
	opts := Options{ExportsDir: filepath.Join(baseDir, "exports")}
	if cfg != nil {
		opts.AllowedPaths = cfg.AllowedPaths
		opts.AllowUnsafePaths = cfg.AllowUnsafePaths
	}
	return opts
}

// PathCheckMode indicates whether the path check is for reading or writing.
type PathCheckMode int

const (
	PathCheckRead  PathCheckMode = iota // for import (read file)
	PathCheckWrite                      // for export (write file)
)

// ValidatePath checks an export/import path:
// 1. Path traversal (.. sequences)
// 2. Extension (.jsonl required)
// 3. Directory restrictions (file must be DIRECTLY in the exports dir or an allowed path)
// 4. Symlink safety (parent dir must not be a symlink, file must not be a symlink)
//
// Requiring files to sit directly in an allowed directory leaves no intermediate component
// that could be swapped for a symlink between validation and open; O_NOFOLLOW covers the
// final component.
func ValidatePath(path string, mode PathCheckMode, opts Options) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}

	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != ".jsonl" {
		return errors.NewInvalidRequest("path must have .jsonl extension")
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	if !opts.AllowUnsafePaths {
		allowedDirs, err := allowedDirs(opts)
		if err != nil {
			return err
		}

		parentDir := filepath.Dir(absPath)
		if !isDirectlyInAllowedDir(parentDir, allowedDirs) {
			return errors.NewInvalidRequest(
				fmt.Sprintf("file must be directly in an allowed directory (no subdirectories); allowed: %v",
					allowedDirs))
		}

		if info, err := os.Lstat(parentDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return errors.NewInvalidRequest("parent directory must not be a symlink")
		}
	}

	if mode == PathCheckRead {
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			return errors.NewNotFound(path)
		}
	}

	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}

	return nil
}

// allowedDirs returns the allowed directories, absolute and cleaned. Symlinked entries are
// resolved so they match the real parent of a file.
func allowedDirs(opts Options) ([]string, error) {
	var dirs []string
	if opts.ExportsDir != "" {
		dirs = append(dirs, opts.ExportsDir)
	}
	for _, p := range opts.AllowedPaths {
		if filepath.IsAbs(p) {
			dirs = append(dirs, filepath.Clean(p))
		}
	}

	result := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(filepath.Clean(d))
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
			abs = resolved
		}
		result = append(result, abs)
	}
	return result, nil
}

// isDirectlyInAllowedDir reports whether parentDir is exactly one of the allowed directories.
func isDirectlyInAllowedDir(parentDir string, allowedDirs []string) bool {
	parentDir = filepath.Clean(parentDir)
	for _, dir := range allowedDirs {
		if parentDir == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}

// SanitizeForFilename makes s safe to embed in a file name.
func SanitizeForFilename(s string) string {
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.ReplaceAll(s, "..", "-")

	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	s = b.String()

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if s == "" {
		s = "unnamed"
	}
	return s
}
