// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"path"
	"weak"

	"github.com/lf-edge/eve/pkg/devinfo/types"
)

type attrValue struct {
	value string
	err   error
}

// Device is a snapshot of one device. It is created by a Resolver, either
// from a lookup or from an event, and is read-only afterwards apart from
// the attribute and parent caches. A Device must only be used from the
// goroutine which owns its Resolver.
type Device struct {
	r *Resolver

	syspath    string
	devpath    string
	sysname    string
	subsystem  string
	driver     string
	devnode    string
	devnum     types.Devnum
	hasDevnum  bool
	action     types.Action
	seqnum     uint64
	links      types.PropertyList
	linksRead  bool
	properties types.PropertyList

	attrs map[string]attrValue

	// The parent is not owned: holding a device does not keep its
	// ancestors alive. parentSyspath survives a collected parent so it
	// can be resolved again.
	parentChecked bool
	parentSyspath string
	parent        weak.Pointer[Device]
}

// Action is the event action, or types.ActionAbsent for a lookup
func (d *Device) Action() types.Action {
	return d.action
}

// Seqnum is the kernel event sequence number, 0 for a lookup
func (d *Device) Seqnum() uint64 {
	return d.seqnum
}

// Syspath is the canonical absolute path of the device
func (d *Device) Syspath() string {
	return d.syspath
}

// Devpath is the syspath without the sysfs mount point
func (d *Device) Devpath() string {
	return d.devpath
}

// Sysname is the last component of the syspath
func (d *Device) Sysname() string {
	return d.sysname
}

// Subsystem returns "" when the device has none
func (d *Device) Subsystem() string {
	return d.subsystem
}

// Driver returns "" when no driver is bound
func (d *Device) Driver() string {
	return d.driver
}

// Devnode returns the special file path, "" if there is none
func (d *Device) Devnode() string {
	return d.devnode
}

// Devnum is only present for devices with a devnode
func (d *Device) Devnum() (types.Devnum, bool) {
	return d.devnum, d.hasDevnum
}

// Links returns the alternate paths of the devnode in discovery order.
// For a looked up device they are read from the Source on first use.
func (d *Device) Links() []string {
	if !d.linksRead {
		d.linksRead = true
		if d.devnode != "" {
			links, err := d.r.src.Links(d.devnode)
			if err != nil {
				d.r.log.Warnf("Links(%s): %v", d.devnode, err)
			}
			for _, link := range links {
				d.links.Add(link)
			}
		}
	}
	return d.links.Names()
}

// Properties returns the properties in source order
func (d *Device) Properties() []types.Entry {
	return d.properties.Entries()
}

// Property returns a single property value
func (d *Device) Property(name string) (string, bool) {
	return d.properties.Get(name)
}

// Attribute reads a sysfs attribute. Values and failures are remembered
// for the lifetime of the device.
func (d *Device) Attribute(name string) (string, error) {
	if v, ok := d.attrs[name]; ok {
		return v.value, v.err
	}
	value, err := d.r.src.Attribute(d.syspath, name)
	if err != nil {
		err = fmt.Errorf("attribute %s of %s: %w", name, d.syspath, err)
		value = ""
	}
	if d.attrs == nil {
		d.attrs = make(map[string]attrValue)
	}
	d.attrs[name] = attrValue{value: value, err: err}
	return value, err
}

// Parent returns the closest ancestor device, nil at the top
func (d *Device) Parent() *Device {
	return d.r.ParentOf(d)
}

func (d *Device) String() string {
	if d.subsystem == "" {
		return d.syspath
	}
	return fmt.Sprintf("%s (%s)", d.syspath, d.subsystem)
}

func (r *Resolver) newDevice(syspath string) *Device {
	return &Device{
		r:       r,
		syspath: syspath,
		devpath: r.devpathOf(syspath),
		sysname: path.Base(syspath),
		action:  types.ActionAbsent,
	}
}
