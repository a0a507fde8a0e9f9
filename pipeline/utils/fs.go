package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
)

var tmpCounter atomic.Uint64

// EnsureDir creates dir and its parents. Concurrent creators racing on the
// same path are fine: an existing directory is success.
func EnsureDir(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		if info, statErr := fs.Stat(dir); statErr == nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// tmpName returns a sibling temp path unique within the process.
func tmpName(path string) string {
	n := tmpCounter.Add(1)
	return path + ".tmp." + strconv.Itoa(os.Getpid()) + "." + strconv.FormatUint(n, 10)
}

// WriteFileAtomic writes data to a temp sibling and renames it into place,
// so readers never observe a partial file.
func WriteFileAtomic(fs afero.Fs, path string, data []byte) error {
	if err := EnsureDir(fs, filepath.Dir(path)); err != nil {
		return err
	}
	tmp := tmpName(path)
	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}

// WritePair writes a body and its gzip variant together: both temp files are
// written first, then both are renamed. If either write fails neither file is
// touched.
func WritePair(fs afero.Fs, path string, body []byte) error {
	gz, err := Gzip(body)
	if err != nil {
		return err
	}
	if err := EnsureDir(fs, filepath.Dir(path)); err != nil {
		return err
	}

	tmpBody, tmpGz := tmpName(path), tmpName(path+".gz")
	cleanup := func() {
		_ = fs.Remove(tmpBody)
		_ = fs.Remove(tmpGz)
	}
	if err := afero.WriteFile(fs, tmpBody, body, 0644); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpBody, err)
	}
	if err := afero.WriteFile(fs, tmpGz, gz, 0644); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpGz, err)
	}

	// Keep both variants on the same mtime; conditional GET reads it from the
	// plain file only, but tooling compares them.
	now := time.Now()
	_ = fs.Chtimes(tmpBody, now, now)
	_ = fs.Chtimes(tmpGz, now, now)

	if err := fs.Rename(tmpGz, path+".gz"); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename gzip variant: %w", err)
	}
	if err := fs.Rename(tmpBody, path); err != nil {
		cleanup()
		_ = fs.Remove(path + ".gz")
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// RemovePair deletes a body and its gzip variant. Missing files are success.
func RemovePair(fs afero.Fs, path string) error {
	var firstErr error
	for _, p := range []string{path, path + ".gz"} {
		if err := fs.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return firstErr
}

// Exists reports whether path exists; stat errors count as absent.
func Exists(fs afero.Fs, path string) bool {
	ok, err := afero.Exists(fs, path)
	return err == nil && ok
}

// RemoveTree deletes dir. The directory is first renamed to a sibling so the
// path is free immediately; with async the renamed tree is removed in the
// background. A missing dir is success.
func RemoveTree(fs afero.Fs, dir string, async bool) error {
	if _, err := fs.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	trash := filepath.Join(filepath.Dir(dir), fmt.Sprintf("%s_deleting_%d", filepath.Base(dir), time.Now().UnixNano()))
	if err := fs.Rename(dir, trash); err != nil {
		if err := fs.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		return nil
	}

	if async {
		go func() { _ = fs.RemoveAll(trash) }()
		return nil
	}
	if err := fs.RemoveAll(trash); err != nil {
		return fmt.Errorf("failed to remove %s: %w", trash, err)
	}
	return nil
}
