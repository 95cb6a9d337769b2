// Copyright (c) 2017,2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

// Wait for a device node to show up. devtmpfs or udevd create the node
// some time after the kernel sends the add event.

package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitForFile returns once path exists or ctx is done. Directories on
// the way to path which do not exist yet are waited for as well.
func WaitForFile(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("WaitForFile %s: %w", path, err)
	}
	defer w.Close()

	watched := ""
	for {
		if _, err := os.Lstat(path); err == nil {
			return nil
		}
		dir := existingAncestor(filepath.Dir(path))
		if dir != watched {
			if watched != "" {
				// the old directory may be gone already
				_ = w.Remove(watched)
			}
			if err := w.Add(dir); err != nil {
				return fmt.Errorf("WaitForFile %s: watch %s: %w", path, dir, err)
			}
			watched = dir
			// created between the Lstat and the Add
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-w.Events:
			if !ok {
				return errors.New("WaitForFile: watcher closed")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("WaitForFile: watcher closed")
			}
			return fmt.Errorf("WaitForFile %s: %w", path, err)
		}
	}
}

func existingAncestor(dir string) string {
	for {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
