// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package sysfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lf-edge/eve/pkg/devinfo/device"
	"github.com/lf-edge/eve/pkg/devinfo/types"
)

// Lookup implements device.Index using <sysRoot>/dev/{char,block}. When
// that directory does not exist, which is the case before Linux 2.6.27,
// it scans all devices for a matching number instead.
func (t *Tree) Lookup(kind types.DevType, devnum types.Devnum) (string, error) {
	if kind.Dir() == "" {
		return "", fmt.Errorf("device type %v: %w", kind, device.ErrNotFound)
	}
	indexDir := filepath.Join(t.sysRoot, "dev", kind.Dir())
	if fi, err := os.Stat(indexDir); err == nil && fi.IsDir() {
		link := filepath.Join(indexDir, devnum.String())
		syspath, err := t.canonical(link)
		if err != nil {
			return "", fmt.Errorf("%c %s: %w", kind, devnum, err)
		}
		return syspath, nil
	}
	t.log.Functionf("Lookup(%c, %s): no %s, scanning", kind, devnum, indexDir)
	return t.scan(kind, devnum)
}

func (t *Tree) scan(kind types.DevType, devnum types.Devnum) (string, error) {
	candidates, err := t.List()
	if err != nil {
		return "", err
	}
	seen := make(map[string]struct{})
	for _, candidate := range candidates {
		info, err := t.Stat(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[info.Syspath]; ok {
			continue
		}
		seen[info.Syspath] = struct{}{}
		if !info.HasDevnum || info.Devnum != devnum {
			continue
		}
		isBlock := info.Subsystem == "block"
		if isBlock == (kind == types.DevTypeBlock) {
			return info.Syspath, nil
		}
	}
	return "", fmt.Errorf("%c %s: %w", kind, devnum, device.ErrNotFound)
}
