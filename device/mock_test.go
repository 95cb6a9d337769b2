// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"

	"github.com/lf-edge/eve/pkg/devinfo/types"
	"github.com/stretchr/testify/mock"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Stat(syspath string) (Info, error) {
	args := m.Called(syspath)
	return args.Get(0).(Info), args.Error(1)
}

func (m *mockSource) Parent(syspath string) (string, error) {
	args := m.Called(syspath)
	return args.String(0), args.Error(1)
}

func (m *mockSource) Attribute(syspath, name string) (string, error) {
	args := m.Called(syspath, name)
	return args.String(0), args.Error(1)
}

func (m *mockSource) Links(devnode string) ([]string, error) {
	args := m.Called(devnode)
	links, _ := args.Get(0).([]string)
	return links, args.Error(1)
}

func (m *mockSource) List() ([]string, error) {
	args := m.Called()
	list, _ := args.Get(0).([]string)
	return list, args.Error(1)
}

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) Lookup(kind types.DevType, devnum types.Devnum) (string, error) {
	args := m.Called(kind, devnum)
	return args.String(0), args.Error(1)
}

// fakeSource is an in-memory device tree keyed by canonical syspath
type fakeSource struct {
	devices map[string]*fakeDevice
	aliases map[string]string
	links   map[string][]string
	list    []string
}

type fakeDevice struct {
	info   Info
	parent string
	attrs  map[string]string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		devices: map[string]*fakeDevice{},
		aliases: map[string]string{},
		links:   map[string][]string{},
	}
}

func (f *fakeSource) add(syspath, parent, subsystem string, attrs map[string]string) *fakeDevice {
	d := &fakeDevice{
		info:   Info{Syspath: syspath, Subsystem: subsystem},
		parent: parent,
		attrs:  attrs,
	}
	if subsystem != "" {
		d.info.Properties.Set("SUBSYSTEM", subsystem)
	}
	f.devices[syspath] = d
	f.list = append(f.list, syspath)
	return d
}

func (f *fakeSource) Stat(syspath string) (Info, error) {
	if target, ok := f.aliases[syspath]; ok {
		syspath = target
	}
	d, ok := f.devices[syspath]
	if !ok {
		return Info{}, fmt.Errorf("%s: %w", syspath, ErrNotFound)
	}
	return d.info, nil
}

func (f *fakeSource) Parent(syspath string) (string, error) {
	d, ok := f.devices[syspath]
	if !ok {
		return "", fmt.Errorf("%s: %w", syspath, ErrNotFound)
	}
	return d.parent, nil
}

func (f *fakeSource) Attribute(syspath, name string) (string, error) {
	d, ok := f.devices[syspath]
	if !ok {
		return "", fmt.Errorf("%s: %w", syspath, ErrNotFound)
	}
	v, ok := d.attrs[name]
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", syspath, name, ErrNotFound)
	}
	return v, nil
}

func (f *fakeSource) Links(devnode string) ([]string, error) {
	return f.links[devnode], nil
}

func (f *fakeSource) List() ([]string, error) {
	return f.list, nil
}
