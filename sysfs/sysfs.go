// Copyright (c) 2023-2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sysfs reads devices from a mounted sysfs and devtmpfs. It
// implements device.Source and device.Index.
package sysfs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lf-edge/eve/pkg/devinfo/base"
	"github.com/lf-edge/eve/pkg/devinfo/device"
	"github.com/lf-edge/eve/pkg/devinfo/types"
	"github.com/sirupsen/logrus"
)

// directories below the dev root which hold symlinks to devnodes
var linkDirs = []string{"block", "char", "disk", "input", "mapper", "serial", "snd"}

// Tree is a sysfs tree rooted at sysRoot with devnodes below devRoot
type Tree struct {
	sysRoot string
	devRoot string
	log     *base.LogObject
}

// New returns a Tree. Roots are resolved once so that canonical syspaths
// keep the sysRoot prefix even when the mount point is reached through a
// symlink.
func New(sysRoot, devRoot string, log *base.LogObject) *Tree {
	if log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		log = base.NewSourceLogObject(logger, "sysfs", 0)
	}
	return &Tree{
		sysRoot: evalRoot(sysRoot),
		devRoot: evalRoot(devRoot),
		log:     log,
	}
}

func evalRoot(root string) string {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return filepath.Clean(root)
	}
	return resolved
}

// SysRoot returns the resolved sysfs mount point
func (t *Tree) SysRoot() string {
	return t.sysRoot
}

// DevRoot returns the resolved devtmpfs mount point
func (t *Tree) DevRoot() string {
	return t.devRoot
}

func notFound(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return fmt.Errorf("%s: %w", path, device.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", path, err)
}

func (t *Tree) underRoot(path string) bool {
	return path != t.sysRoot && strings.HasPrefix(path, t.sysRoot+"/")
}

// canonical resolves syspath and checks it is a device directory
func (t *Tree) canonical(syspath string) (string, error) {
	resolved, err := filepath.EvalSymlinks(syspath)
	if err != nil {
		return "", notFound(syspath, err)
	}
	if !t.underRoot(resolved) {
		return "", fmt.Errorf("%s resolves outside %s: %w",
			syspath, t.sysRoot, device.ErrNotFound)
	}
	fi, err := os.Stat(filepath.Join(resolved, "uevent"))
	if err != nil {
		return "", notFound(resolved, err)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%s has no uevent file: %w", resolved, device.ErrNotFound)
	}
	return resolved, nil
}

// Stat implements device.Source
func (t *Tree) Stat(syspath string) (device.Info, error) {
	resolved, err := t.canonical(syspath)
	if err != nil {
		return device.Info{}, err
	}
	info := device.Info{Syspath: resolved}
	info.Subsystem = linkBase(filepath.Join(resolved, "subsystem"))
	info.Driver = linkBase(filepath.Join(resolved, "driver"))

	uevent, err := readUeventFile(filepath.Join(resolved, "uevent"))
	if err != nil {
		return device.Info{}, notFound(resolved, err)
	}
	info.Properties.Set("DEVPATH", strings.TrimPrefix(resolved, t.sysRoot))
	if info.Subsystem != "" {
		info.Properties.Set("SUBSYSTEM", info.Subsystem)
	}
	for _, e := range uevent.Entries() {
		info.Properties.Set(e.Name, e.Value)
	}
	if info.Driver == "" {
		info.Driver, _ = uevent.Get("DRIVER")
	}

	if devname, ok := uevent.Get("DEVNAME"); ok && devname != "" {
		if filepath.IsAbs(devname) {
			info.Devnode = filepath.Clean(devname)
		} else {
			info.Devnode = filepath.Join(t.devRoot, devname)
		}
	}
	major, hasMajor := uevent.Get("MAJOR")
	minor, hasMinor := uevent.Get("MINOR")
	if hasMajor && hasMinor {
		devnum, err := types.ParseMajorMinor(major, minor)
		if err != nil {
			t.log.Warnf("Stat(%s): %v", resolved, err)
		} else {
			info.Devnum = devnum
			info.HasDevnum = true
		}
	} else if dev, err := t.Attribute(resolved, "dev"); err == nil {
		// kernels without MAJOR/MINOR in uevent
		if devnum, err := types.ParseDevnum(dev); err == nil {
			info.Devnum = devnum
			info.HasDevnum = true
		}
	}
	return info, nil
}

// Parent implements device.Source. Below <sysRoot>/devices the parent is
// the closest directory above which has a uevent file; for class devices
// on old kernels it is the target of the "device" link, which must lie
// below <sysRoot>/devices.
func (t *Tree) Parent(syspath string) (string, error) {
	p := filepath.Clean(syspath)
	if !t.underRoot(p) {
		return "", nil
	}
	devicesDir := filepath.Join(t.sysRoot, "devices")
	if !strings.HasPrefix(p, devicesDir+"/") {
		target, err := filepath.EvalSymlinks(filepath.Join(p, "device"))
		if err != nil || !strings.HasPrefix(target, devicesDir+"/") {
			return "", nil
		}
		return target, nil
	}
	for {
		p = filepath.Dir(p)
		if p == devicesDir || !strings.HasPrefix(p, devicesDir+"/") {
			return "", nil
		}
		if fileExists(filepath.Join(p, "uevent")) {
			return p, nil
		}
	}
}

// Attribute implements device.Source. Symlink attributes such as driver
// or subsystem return the last component of their target.
func (t *Tree) Attribute(syspath, name string) (string, error) {
	clean := filepath.Clean(name)
	if name == "" || filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid attribute name %q: %w", name, device.ErrNotFound)
	}
	if !t.underRoot(filepath.Clean(syspath)) {
		return "", fmt.Errorf("%s is outside %s: %w", syspath, t.sysRoot, device.ErrNotFound)
	}
	p := filepath.Join(syspath, clean)
	fi, err := os.Lstat(p)
	if err != nil {
		return "", notFound(p, err)
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(p)
		if err != nil {
			return "", notFound(p, err)
		}
		return filepath.Base(target), nil
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%s is a directory: %w", p, device.ErrNotFound)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", notFound(p, err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

// List implements device.Source: bus devices first, then class devices,
// then the old style /sys/block, each group in lexical order. Plain files
// such as class/net/bonding_masters are not devices and are left out.
func (t *Tree) List() ([]string, error) {
	if _, err := os.Stat(t.sysRoot); err != nil {
		return nil, fmt.Errorf("sysfs at %s: %w", t.sysRoot, err)
	}
	var out []string
	for _, pattern := range []string{
		filepath.Join("bus", "*", "devices", "*"),
		filepath.Join("class", "*", "*"),
		filepath.Join("block", "*"),
	} {
		matches, err := filepath.Glob(filepath.Join(t.sysRoot, pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if fi, err := os.Stat(m); err == nil && fi.IsDir() {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Links implements device.Source. It returns the symlinks below the link
// directories of the dev root which point at devnode.
func (t *Tree) Links(devnode string) ([]string, error) {
	if _, err := os.Lstat(t.devRoot); err != nil {
		return nil, fmt.Errorf("devtmpfs at %s: %w", t.devRoot, err)
	}
	return t.links(devnode), nil
}

func (t *Tree) links(devnode string) []string {
	target := devnode
	if resolved, err := filepath.EvalSymlinks(devnode); err == nil {
		target = resolved
	}
	var out []string
	for _, dir := range linkDirs {
		root := filepath.Join(t.devRoot, dir)
		_ = filepath.WalkDir(root, func(p string, de fs.DirEntry, err error) error {
			if err != nil || de == nil {
				return nil
			}
			if de.Type()&fs.ModeSymlink == 0 {
				return nil
			}
			resolved, err := filepath.EvalSymlinks(p)
			if err == nil && resolved == target {
				out = append(out, p)
			}
			return nil
		})
	}
	return out
}

func linkBase(p string) string {
	target, err := os.Readlink(p)
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func readUeventFile(p string) (types.PropertyList, error) {
	f, err := os.Open(p)
	if err != nil {
		return types.PropertyList{}, err
	}
	defer f.Close()
	return parseUevent(f)
}

// parseUevent reads KEY=VALUE lines as found in sysfs uevent files
func parseUevent(r io.Reader) (types.PropertyList, error) {
	var props types.PropertyList
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, found := strings.Cut(sc.Text(), "=")
		if !found || key == "" {
			continue
		}
		props.Set(key, value)
	}
	return props, sc.Err()
}
