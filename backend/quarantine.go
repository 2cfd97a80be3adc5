package backend

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Per-file statuses reported by Quarantine operations.
const (
	StatusMoved           = "moved"
	StatusRestored        = "restored"
	StatusDeleted         = "deleted"
	StatusMissing         = "missing"
	StatusOutsideRoot     = "outside_root"
	StatusNotInQuarantine = "not_in_quarantine"
)

// ErrOutsideRoot is returned when a path is not inside the library root.
var ErrOutsideRoot = errors.New("path outside library root")

// Quarantine moves duplicate removals aside instead of deleting them, so a
// dedupe run can be undone. Files keep their path relative to Root.
type Quarantine struct {
	Root string
	Dir  string
	// Cache, when set, has entries for moved or deleted files invalidated.
	Cache  *ScanCache
	Logger *slog.Logger
}

func (q *Quarantine) logger() *slog.Logger {
	if q.Logger == nil {
		return slog.Default().With("component", "quarantine")
	}
	return q.Logger.With("component", "quarantine")
}

func (q *Quarantine) check() error {
	if strings.TrimSpace(q.Root) == "" {
		return fmt.Errorf("root path is required")
	}
	if strings.TrimSpace(q.Dir) == "" {
		return fmt.Errorf("quarantine directory is required")
	}
	return nil
}

// Move moves files into the quarantine. It returns a status per input path.
func (q *Quarantine) Move(filePaths []string) (map[string]string, error) {
	if len(filePaths) == 0 {
		return nil, fmt.Errorf("no file paths provided")
	}
	if err := q.check(); err != nil {
		return nil, err
	}
	logger := q.logger()

	results := make(map[string]string, len(filePaths))
	var moved []string
	for _, filePath := range filePaths {
		if filePath == "" {
			continue
		}
		if _, err := os.Stat(filePath); errors.Is(err, fs.ErrNotExist) {
			results[filePath] = StatusMissing
			continue
		}
		rel, err := relativeTo(q.Root, filePath)
		if err != nil {
			results[filePath] = StatusOutsideRoot
			continue
		}

		dest := findUniqueFilename(filepath.Join(q.Dir, rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			results[filePath] = fmt.Sprintf("mkdir failed: %v", err)
			continue
		}
		if err := moveFile(filePath, dest); err != nil {
			results[filePath] = fmt.Sprintf("move failed: %v", err)
			continue
		}
		results[filePath] = StatusMoved
		moved = append(moved, filePath)
		logger.Info("file quarantined", "path", filePath, "dest", dest)
	}
	q.invalidate(moved)
	return results, nil
}

// Restore moves quarantined files back under Root. A file that would
// overwrite an existing one gets a numbered name instead.
func (q *Quarantine) Restore(quarantinePaths []string) (map[string]string, error) {
	if len(quarantinePaths) == 0 {
		return nil, fmt.Errorf("no file paths provided")
	}
	if err := q.check(); err != nil {
		return nil, err
	}
	logger := q.logger()

	results := make(map[string]string, len(quarantinePaths))
	for _, qpath := range quarantinePaths {
		if qpath == "" {
			continue
		}
		if !filepath.IsAbs(qpath) {
			qpath = filepath.Join(q.Dir, qpath)
		}
		rel, err := relativeTo(q.Dir, qpath)
		if err != nil {
			results[qpath] = StatusNotInQuarantine
			continue
		}
		if _, err := os.Stat(qpath); errors.Is(err, fs.ErrNotExist) {
			results[qpath] = StatusMissing
			continue
		}

		dest := findUniqueFilename(filepath.Join(q.Root, rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			results[qpath] = fmt.Sprintf("mkdir failed: %v", err)
			continue
		}
		if err := moveFile(qpath, dest); err != nil {
			results[qpath] = fmt.Sprintf("restore failed: %v", err)
			continue
		}
		results[qpath] = StatusRestored
		logger.Info("file restored", "path", qpath, "dest", dest)
	}
	return results, nil
}

// List returns every file in the quarantine, sorted. A missing quarantine is empty.
func (q *Quarantine) List() ([]string, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	var files []string
	err := filepath.WalkDir(q.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk quarantine: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Empty permanently deletes every quarantined file and returns how many were removed.
func (q *Quarantine) Empty() (int, error) {
	files, err := q.List()
	if err != nil {
		return 0, err
	}
	count := 0
	var errs []error
	for _, p := range files {
		if rmErr := os.Remove(p); rmErr != nil {
			errs = append(errs, rmErr)
			continue
		}
		count++
	}
	removeEmptyDirs(q.Dir)
	q.logger().Info("quarantine emptied", "dir", q.Dir, "deleted", count)
	if len(errs) > 0 {
		return count, fmt.Errorf("failed to empty quarantine: %w", errors.Join(errs...))
	}
	return count, nil
}

// Delete permanently removes files inside Root.
func (q *Quarantine) Delete(filePaths []string) (map[string]string, error) {
	if len(filePaths) == 0 {
		return nil, fmt.Errorf("no file paths provided")
	}
	if strings.TrimSpace(q.Root) == "" {
		return nil, fmt.Errorf("root path is required")
	}
	logger := q.logger()

	results := make(map[string]string, len(filePaths))
	var deleted []string
	for _, filePath := range filePaths {
		if filePath == "" {
			continue
		}
		if _, err := relativeTo(q.Root, filePath); err != nil {
			results[filePath] = StatusOutsideRoot
			continue
		}
		if _, err := os.Stat(filePath); errors.Is(err, fs.ErrNotExist) {
			results[filePath] = StatusMissing
			continue
		}
		if err := os.Remove(filePath); err != nil {
			results[filePath] = fmt.Sprintf("failed to delete: %v", err)
			continue
		}
		results[filePath] = StatusDeleted
		deleted = append(deleted, filePath)
		logger.Info("file deleted", "path", filePath)
	}
	q.invalidate(deleted)
	return results, nil
}

func (q *Quarantine) invalidate(paths []string) {
	if q.Cache == nil || len(paths) == 0 {
		return
	}
	if err := q.Cache.InvalidateEntries(q.Root, paths); err != nil {
		q.logger().Warn("failed to invalidate scan cache", "error", err)
	}
}

// relativeTo returns path relative to root, or ErrOutsideRoot.
func relativeTo(root, path string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return rel, nil
}

// moveFile renames src to dst, falling back to a verified copy across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	srcSum, err := computeSHA1(src)
	if err != nil {
		return err
	}
	dstSum, err := computeSHA1(dst)
	if err != nil {
		return err
	}
	if srcSum != dstSum {
		_ = os.Remove(dst)
		return fmt.Errorf("copy of %s is corrupt", src)
	}
	return os.Remove(src)
}

// copyFile copies a file from src to dst keeping its permissions.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return err
	}
	destFile, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, sourceInfo.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}

// findUniqueFilename finds a unique filename by appending a number
func findUniqueFilename(path string) string {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	for i := 1; i < 1000; i++ {
		newPath := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
		if _, err := os.Stat(newPath); errors.Is(err, fs.ErrNotExist) {
			return newPath
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, os.Getpid(), ext))
}

// removeEmptyDirs deletes empty directories below root, deepest first.
func removeEmptyDirs(root string) {
	var dirs []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && p != root {
			dirs = append(dirs, p)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		_ = os.Remove(d) // fails on non-empty dirs
	}
}
