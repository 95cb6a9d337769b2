// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"

	"github.com/lf-edge/eve/pkg/devinfo/types"
)

// ErrNotFound is returned (wrapped) when no device exists for an identity
var ErrNotFound = errors.New("device not found")

// Info is what a Source reports about one device
type Info struct {
	// Syspath is the canonical identity, symlinks resolved
	Syspath    string
	Subsystem  string
	Driver     string
	Devnode    string
	Devnum     types.Devnum
	HasDevnum  bool
	Properties types.PropertyList
}

// Source gives read access to the device model, typically sysfs.
// Implementations wrap ErrNotFound when a device or attribute is missing.
type Source interface {
	// Stat canonicalizes syspath and loads the device found there
	Stat(syspath string) (Info, error)
	// Parent returns the syspath of the closest ancestor device, or ""
	// when syspath is at the top of the hierarchy. It works for devices
	// which no longer exist.
	Parent(syspath string) (string, error)
	// Attribute reads one attribute of the device at syspath
	Attribute(syspath, name string) (string, error)
	// Links returns the alternate paths which point at devnode
	Links(devnode string) ([]string, error)
	// List returns candidate syspaths in discovery order. Entries may
	// be non canonical, duplicated, or gone by the time they are used.
	List() ([]string, error)
}

// Index maps device numbers to syspaths
type Index interface {
	Lookup(kind types.DevType, devnum types.Devnum) (string, error)
}
