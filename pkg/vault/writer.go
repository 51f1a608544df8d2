package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempFilePrefix is the prefix used for temporary atomic write files.
const TempFilePrefix = ".meetsync-tmp-"

// Writer places notes in a folder inside the vault.
type Writer struct {
	dir  string
	perm os.FileMode
}

// NewWriter returns a Writer for vaultPath/folder.
func NewWriter(vaultPath, folder string) *Writer {
	return &Writer{
		dir:  filepath.Join(vaultPath, folder),
		perm: 0o644,
	}
}

// Dir returns the output folder.
func (w *Writer) Dir() string {
	return w.dir
}

// Write stores content under filename in the output folder and returns the
// final path. An existing file is never overwritten; a numeric suffix is
// appended instead.
func (w *Writer) Write(filename, content string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output folder: %w", err)
	}

	path, err := w.availablePath(filename)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, []byte(content), w.perm); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes a note previously returned by Write. Paths outside the
// output folder are refused.
func (w *Writer) Remove(path string) error {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return fmt.Errorf("%s is not a note in %s", path, w.dir)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// availablePath returns dir/filename, or dir/name_N.ext for the first free N.
func (w *Writer) availablePath(filename string) (string, error) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	for n := 1; n < 1000; n++ {
		name := filename
		if n > 1 {
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		path := filepath.Join(w.dir, name)
		_, err := os.Lstat(path)
		if os.IsNotExist(err) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("no free filename for %s", filename)
}

// writeFileAtomic writes data to a file atomically by writing to a temp file
// and then renaming it to the target filename.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)

	tmpFile, err := os.CreateTemp(dir, TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpFile.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), filename); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", filename, err)
	}
	return nil
}
