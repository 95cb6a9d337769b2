// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"weak"

	"github.com/lf-edge/eve/pkg/devinfo/base"
	"github.com/lf-edge/eve/pkg/devinfo/types"
	"github.com/sirupsen/logrus"
)

const (
	defaultSysRoot = "/sys"
	defaultDevRoot = "/dev"
	minArenaPrune  = 64
)

// Resolver turns device identities into Devices. Devices are shared: as
// long as some caller holds a Device, looking up the same syspath again
// returns the same object. A Resolver is not safe for concurrent use.
type Resolver struct {
	src     Source
	idx     Index
	sysRoot string
	devRoot string
	log     *base.LogObject

	arena   map[string]weak.Pointer[Device]
	pruneAt int
}

// Option configures a Resolver
type Option func(*Resolver)

// WithSysRoot sets the sysfs mount point used to complete and strip
// syspaths
func WithSysRoot(root string) Option {
	return func(r *Resolver) {
		r.sysRoot = filepath.Clean(root)
	}
}

// WithDevRoot sets the directory relative DEVNAME values live in
func WithDevRoot(root string) Option {
	return func(r *Resolver) {
		r.devRoot = filepath.Clean(root)
	}
}

// WithLogObject sets where the resolver logs to
func WithLogObject(log *base.LogObject) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// NewResolver returns a Resolver reading devices from src and device
// numbers from idx
func NewResolver(src Source, idx Index, opts ...Option) *Resolver {
	r := &Resolver{
		src:     src,
		idx:     idx,
		sysRoot: defaultSysRoot,
		devRoot: defaultDevRoot,
		arena:   make(map[string]weak.Pointer[Device]),
		pruneAt: minArenaPrune,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		r.log = base.NewSourceLogObject(logger, "device", 0)
	}
	return r
}

// SysRoot returns the sysfs mount point
func (r *Resolver) SysRoot() string {
	return r.sysRoot
}

// DevRoot returns the devtmpfs mount point
func (r *Resolver) DevRoot() string {
	return r.devRoot
}

// normalize prefixes paths which are not already below the sys root
func (r *Resolver) normalize(syspath string) string {
	if r.sysRoot == "/" {
		return filepath.Clean("/" + syspath)
	}
	if syspath == r.sysRoot || strings.HasPrefix(syspath, r.sysRoot+"/") {
		return filepath.Clean(syspath)
	}
	return filepath.Join(r.sysRoot, syspath)
}

func (r *Resolver) devpathOf(syspath string) string {
	if r.sysRoot == "/" {
		return syspath
	}
	return strings.TrimPrefix(syspath, r.sysRoot)
}

func (r *Resolver) lookupArena(syspath string) *Device {
	wp, ok := r.arena[syspath]
	if !ok {
		return nil
	}
	d := wp.Value()
	if d == nil {
		delete(r.arena, syspath)
	}
	return d
}

func (r *Resolver) storeArena(d *Device) {
	if len(r.arena) >= r.pruneAt {
		for syspath, wp := range r.arena {
			if wp.Value() == nil {
				delete(r.arena, syspath)
			}
		}
		r.pruneAt = max(2*len(r.arena), minArenaPrune)
	}
	r.arena[d.syspath] = weak.Make(d)
}

// FromSyspath returns the device at syspath. A path which does not start
// with the sys root is taken relative to it.
func (r *Resolver) FromSyspath(syspath string) (*Device, error) {
	if syspath == "" {
		return nil, fmt.Errorf("empty syspath: %w", ErrNotFound)
	}
	normalized := r.normalize(syspath)
	if d := r.lookupArena(normalized); d != nil {
		return d, nil
	}
	info, err := r.src.Stat(normalized)
	if err != nil {
		r.log.Functionf("FromSyspath(%s) failed: %v", normalized, err)
		return nil, err
	}
	if d := r.lookupArena(info.Syspath); d != nil {
		return d, nil
	}
	d := r.newDevice(info.Syspath)
	d.subsystem = info.Subsystem
	d.driver = info.Driver
	d.devnode = info.Devnode
	if info.HasDevnum && info.Devnode != "" {
		d.devnum = info.Devnum
		d.hasDevnum = true
	}
	d.properties = info.Properties
	r.storeArena(d)
	r.log.Functionf("FromSyspath(%s): %s", syspath, d)
	return d, nil
}

// FromDevnum looks up the device registered for a kind and device number
func (r *Resolver) FromDevnum(kind types.DevType, devnum types.Devnum) (*Device, error) {
	if kind.Dir() == "" {
		return nil, fmt.Errorf("device type %v: %w", kind, ErrNotFound)
	}
	syspath, err := r.idx.Lookup(kind, devnum)
	if err != nil {
		r.log.Functionf("FromDevnum(%c, %s) failed: %v", kind, devnum, err)
		return nil, err
	}
	d, err := r.FromSyspath(syspath)
	if err != nil {
		return nil, err
	}
	if got, ok := d.Devnum(); ok && got != devnum {
		r.log.Warnf("FromDevnum(%c, %s): index points at %s with devnum %s",
			kind, devnum, d.syspath, got)
	}
	return d, nil
}

// validParent reports whether parent may be reported for child. Below
// <sysRoot>/devices a parent is a strict path prefix of its child. A
// device outside of it, a class device on old kernels, may step once into
// <sysRoot>/devices. Either way walking parents terminates.
func (r *Resolver) validParent(child, parent string) bool {
	if strings.HasPrefix(child, parent+"/") {
		return true
	}
	devices := filepath.Join(r.sysRoot, "devices") + "/"
	return !strings.HasPrefix(child, devices) && strings.HasPrefix(parent, devices)
}

// underSysRoot reports whether syspath is strictly below the sys root
func (r *Resolver) underSysRoot(syspath string) bool {
	if r.sysRoot == "/" {
		return syspath != "/" && strings.HasPrefix(syspath, "/")
	}
	return strings.HasPrefix(syspath, r.sysRoot+"/")
}

// ParentOf returns the closest ancestor of d, nil at the top of the
// hierarchy or when the parent can no longer be loaded.
func (r *Resolver) ParentOf(d *Device) *Device {
	if !d.parentChecked {
		parent, err := r.src.Parent(d.syspath)
		if err != nil {
			r.log.Warnf("ParentOf(%s): %v", d.syspath, err)
			parent = ""
		}
		if parent != "" && !r.validParent(d.syspath, parent) {
			r.log.Errorf("ParentOf(%s): ignoring %s which is not an ancestor",
				d.syspath, parent)
			parent = ""
		}
		d.parentSyspath = parent
		d.parentChecked = true
	}
	if d.parentSyspath == "" {
		return nil
	}
	if p := d.parent.Value(); p != nil {
		return p
	}
	p, err := r.FromSyspath(d.parentSyspath)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Warnf("ParentOf(%s): %v", d.syspath, err)
		}
		return nil
	}
	d.parent = weak.Make(p)
	return p
}

// FromEvent builds a device from the properties carried by an event. It
// does not consult the Source; attributes and parents are still read
// lazily. The device does not replace the one a lookup would return.
func (r *Resolver) FromEvent(action types.Action, props types.PropertyList) (*Device, error) {
	devpath, ok := props.Get("DEVPATH")
	if !ok || devpath == "" || !strings.HasPrefix(devpath, "/") ||
		slices.Contains(strings.Split(devpath, "/"), "..") {
		return nil, fmt.Errorf("event has no valid DEVPATH: %q", devpath)
	}
	// DEVPATH is always relative to the sys root, even if it happens to
	// start with the same string
	syspath := filepath.Join(r.sysRoot, devpath)
	if !r.underSysRoot(syspath) {
		return nil, fmt.Errorf("event DEVPATH %q is outside of %s", devpath, r.sysRoot)
	}
	d := r.newDevice(syspath)
	d.linksRead = true
	d.action = action
	d.properties = props
	d.subsystem, _ = props.Get("SUBSYSTEM")
	d.driver, _ = props.Get("DRIVER")

	if devname, ok := props.Get("DEVNAME"); ok && devname != "" {
		if filepath.IsAbs(devname) {
			d.devnode = filepath.Clean(devname)
		} else {
			d.devnode = filepath.Join(r.devRoot, devname)
		}
	}
	major, hasMajor := props.Get("MAJOR")
	minor, hasMinor := props.Get("MINOR")
	if hasMajor && hasMinor {
		devnum, err := types.ParseMajorMinor(major, minor)
		if err != nil {
			return nil, err
		}
		if d.devnode != "" {
			d.devnum = devnum
			d.hasDevnum = true
		}
	}
	if devlinks, ok := props.Get("DEVLINKS"); ok {
		for _, link := range strings.Fields(devlinks) {
			d.links.Add(link)
		}
	}
	if seqnum, ok := props.Get("SEQNUM"); ok {
		n, err := strconv.ParseUint(seqnum, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SEQNUM %q: %w", seqnum, err)
		}
		d.seqnum = n
	}
	return d, nil
}
