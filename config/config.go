// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the settings shared by a device context: where
// sysfs and devtmpfs are mounted and the log priority.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-envparse"
	"github.com/lf-edge/eve/pkg/devinfo/agentlog"
	"github.com/moby/sys/mountinfo"
)

const (
	// DefaultConfigFile is read by Load when no path is given
	DefaultConfigFile = "/etc/udev/udev.conf"

	defaultSysRoot = "/sys"
	defaultDevRoot = "/dev"

	// udev.conf keys
	keyDevRoot = "udev_root"
	keySysRoot = "udev_sys"
	keyLog     = "udev_log"

	// environment overrides
	envSysRoot = "SYSFS_PATH"
	envDevRoot = "UDEV_ROOT"
	envLog     = "UDEV_LOG"
)

// Config of a device context
type Config struct {
	SysRoot     string
	DevRoot     string
	LogPriority int
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		SysRoot:     defaultSysRoot,
		DevRoot:     defaultDevRoot,
		LogPriority: agentlog.LogErr,
	}
}

type loader struct {
	mounts func(mountinfo.FilterFunc) ([]*mountinfo.Info, error)
	getenv func(string) (string, bool)
}

// Load applies, in order of increasing precedence: the defaults, the
// sysfs and devtmpfs mount points found in the mount table, the config
// file at path and the environment. A missing config file is not an
// error.
func Load(path string) (Config, error) {
	l := loader{
		mounts: mountinfo.GetMounts,
		getenv: os.LookupEnv,
	}
	return l.load(path)
}

func (l loader) load(path string) (Config, error) {
	cfg := Default()
	l.applyMounts(&cfg)

	if path == "" {
		path = DefaultConfigFile
	}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("config: %w", err)
	default:
		err = applyFile(&cfg, f)
		f.Close()
		if err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := l.applyEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// applyMounts prefers a mount at the default location and otherwise
// takes the first one listed. The mount table is optional.
func (l loader) applyMounts(cfg *Config) {
	mounts, err := l.mounts(mountinfo.FSTypeFilter("sysfs", "devtmpfs"))
	if err != nil {
		return
	}
	var sysRoot, devRoot string
	for _, m := range mounts {
		switch m.FSType {
		case "sysfs":
			if sysRoot == "" || m.Mountpoint == defaultSysRoot {
				sysRoot = m.Mountpoint
			}
		case "devtmpfs":
			if devRoot == "" || m.Mountpoint == defaultDevRoot {
				devRoot = m.Mountpoint
			}
		}
	}
	if sysRoot != "" {
		cfg.SysRoot = sysRoot
	}
	if devRoot != "" {
		cfg.DevRoot = devRoot
	}
}

func applyFile(cfg *Config, r io.Reader) error {
	vars, err := envparse.Parse(r)
	if err != nil {
		return err
	}
	return apply(cfg, vars[keySysRoot], vars[keyDevRoot], vars[keyLog])
}

func (l loader) applyEnv(cfg *Config) error {
	sysRoot, _ := l.getenv(envSysRoot)
	devRoot, _ := l.getenv(envDevRoot)
	priority, _ := l.getenv(envLog)
	return apply(cfg, sysRoot, devRoot, priority)
}

// apply sets the non-empty values
func apply(cfg *Config, sysRoot, devRoot, priority string) error {
	if sysRoot != "" {
		if !filepath.IsAbs(sysRoot) {
			return fmt.Errorf("sys root %q is not absolute", sysRoot)
		}
		cfg.SysRoot = filepath.Clean(sysRoot)
	}
	if devRoot != "" {
		if !filepath.IsAbs(devRoot) {
			return fmt.Errorf("dev root %q is not absolute", devRoot)
		}
		cfg.DevRoot = filepath.Clean(devRoot)
	}
	if priority != "" {
		p, err := agentlog.ParsePriority(priority)
		if err != nil {
			return err
		}
		cfg.LogPriority = p
	}
	return nil
}
