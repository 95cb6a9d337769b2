// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"testing"

	"github.com/lf-edge/eve/pkg/devinfo/types"
	"github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	memNull  = "/sys/devices/virtual/mem/null"
	sataCtrl = "/sys/devices/pci0000:00/0000:00:1f.2"
	sdaDisk  = "/sys/devices/pci0000:00/0000:00:1f.2/host0/target0:0:0/0:0:0:0/block/sda"
	sdaPart  = sdaDisk + "/sda1"
	pciRoot  = "/sys/devices/pci0000:00"
)

func memNullInfo() Info {
	info := Info{
		Syspath:   memNull,
		Subsystem: "mem",
		Devnode:   "/dev/null",
		Devnum:    types.MkDevnum(1, 3),
		HasDevnum: true,
	}
	info.Properties.Set("MAJOR", "1")
	info.Properties.Set("MINOR", "3")
	info.Properties.Set("DEVNAME", "null")
	return info
}

func newMemNullSource() *fakeSource {
	src := newFakeSource()
	d := src.add(memNull, "", "mem", map[string]string{"dev": "1:3"})
	d.info = memNullInfo()
	src.aliases["/sys/class/mem/null"] = memNull
	return src
}

func TestFromSyspathMemNull(test *testing.T) {
	g := gomega.NewGomegaWithT(test)
	r := NewResolver(newMemNullSource(), &mockIndex{})

	d, err := r.FromSyspath(memNull)
	g.Expect(err).To(gomega.BeNil())
	g.Expect(d.Syspath()).To(gomega.Equal(memNull))
	g.Expect(d.Devpath()).To(gomega.Equal("/devices/virtual/mem/null"))
	g.Expect(d.Sysname()).To(gomega.Equal("null"))
	g.Expect(d.Subsystem()).To(gomega.Equal("mem"))
	g.Expect(d.Devnode()).To(gomega.Equal("/dev/null"))
	g.Expect(d.Action()).To(gomega.Equal(types.ActionAbsent))
	devnum, ok := d.Devnum()
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(devnum).To(gomega.Equal(types.MkDevnum(1, 3)))
	g.Expect(d.Properties()).To(gomega.HaveLen(3))
	g.Expect(d.Parent()).To(gomega.BeNil())
}

func TestFromSyspathIdempotentUnderPrefix(t *testing.T) {
	r := NewResolver(newMemNullSource(), &mockIndex{})

	inputs := []string{
		"/devices/virtual/mem/null",
		"devices/virtual/mem/null",
		memNull,
		"/sys/devices/virtual/mem/../mem/null",
		"/sys/class/mem/null",
		"/class/mem/null",
	}
	first, err := r.FromSyspath(inputs[0])
	require.NoError(t, err)
	for _, in := range inputs[1:] {
		d, err := r.FromSyspath(in)
		require.NoError(t, err, in)
		assert.Same(t, first, d, in)
	}
}

func TestFromSyspathNotFound(t *testing.T) {
	r := NewResolver(newMemNullSource(), &mockIndex{})

	for _, in := range []string{"", "/devices/virtual/mem/zero", "/sys/nope"} {
		d, err := r.FromSyspath(in)
		assert.Nil(t, d)
		assert.True(t, errors.Is(err, ErrNotFound), "%q: %v", in, err)
	}
}

func TestFromSyspathCustomRoot(t *testing.T) {
	src := newFakeSource()
	src.add("/tmp/root/sys/devices/virtual/mem/null", "", "mem", nil)
	r := NewResolver(src, &mockIndex{}, WithSysRoot("/tmp/root/sys/"))

	d, err := r.FromSyspath("/devices/virtual/mem/null")
	require.NoError(t, err)
	assert.Equal(t, "/devices/virtual/mem/null", d.Devpath())
	assert.Equal(t, "/tmp/root/sys", r.SysRoot())
}

func TestFromDevnum(t *testing.T) {
	idx := &mockIndex{}
	idx.On("Lookup", types.DevTypeChar, types.MkDevnum(1, 3)).Return(memNull, nil)
	idx.On("Lookup", types.DevTypeBlock, types.MkDevnum(1, 3)).
		Return("", ErrNotFound)
	r := NewResolver(newMemNullSource(), idx)

	d, err := r.FromDevnum(types.DevTypeChar, types.MkDevnum(1, 3))
	require.NoError(t, err)
	assert.Equal(t, memNull, d.Syspath())
	assert.Equal(t, types.ActionAbsent, d.Action())

	bySyspath, err := r.FromSyspath(memNull)
	require.NoError(t, err)
	assert.Same(t, d, bySyspath)

	_, err = r.FromDevnum(types.DevTypeBlock, types.MkDevnum(1, 3))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.FromDevnum(types.DevType('x'), types.MkDevnum(1, 3))
	assert.ErrorIs(t, err, ErrNotFound)
	idx.AssertNumberOfCalls(t, "Lookup", 2)
}

func newDiskSource() *fakeSource {
	src := newFakeSource()
	src.add(pciRoot, "", "", nil)
	src.add(sataCtrl, pciRoot, "pci", map[string]string{"vendor": "0x8086"})
	src.add(sdaDisk, sataCtrl, "block", map[string]string{"dev": "8:0"})
	src.add(sdaPart, sdaDisk, "block", map[string]string{"dev": "8:1"})
	return src
}

func TestParentChain(t *testing.T) {
	r := NewResolver(newDiskSource(), &mockIndex{})

	d, err := r.FromSyspath(sdaPart)
	require.NoError(t, err)

	var chain []*Device
	seen := map[string]bool{}
	for p := d; p != nil; p = p.Parent() {
		require.False(t, seen[p.Syspath()], "revisited %s", p.Syspath())
		seen[p.Syspath()] = true
		chain = append(chain, p)
		require.Less(t, len(chain), 10)
	}
	require.Len(t, chain, 4)
	assert.Equal(t, []string{sdaPart, sdaDisk, sataCtrl, pciRoot},
		[]string{chain[0].Syspath(), chain[1].Syspath(), chain[2].Syspath(), chain[3].Syspath()})

	// walking again returns the cached objects
	i := 0
	for p := d; p != nil; p = p.Parent() {
		assert.Same(t, chain[i], p)
		i++
	}
	assert.Same(t, chain[1], r.ParentOf(chain[0]))
}

func TestParentMustBeAncestor(t *testing.T) {
	src := newDiskSource()
	// a broken source which claims a child is its own parent's parent
	src.devices[sataCtrl].parent = sdaPart
	r := NewResolver(src, &mockIndex{})

	d, err := r.FromSyspath(sataCtrl)
	require.NoError(t, err)
	assert.Nil(t, d.Parent())

	src.devices[pciRoot].parent = pciRoot
	root, err := r.FromSyspath(pciRoot)
	require.NoError(t, err)
	assert.Nil(t, root.Parent())
}

func TestParentOfClassDevice(t *testing.T) {
	const ttyS0 = "/sys/class/tty/ttyS0"
	const ttyS1 = "/sys/class/tty/ttyS1"
	src := newDiskSource()
	src.add(ttyS0, sataCtrl, "tty", nil)
	// a class device may only step into /sys/devices
	src.add(ttyS1, ttyS0, "tty", nil)
	r := NewResolver(src, &mockIndex{})

	d, err := r.FromSyspath(ttyS0)
	require.NoError(t, err)
	var chain []string
	for p := d.Parent(); p != nil; p = p.Parent() {
		chain = append(chain, p.Syspath())
		require.Less(t, len(chain), 10)
	}
	assert.Equal(t, []string{sataCtrl, pciRoot}, chain)

	other, err := r.FromSyspath(ttyS1)
	require.NoError(t, err)
	assert.Nil(t, other.Parent())

	// a device below /sys/devices never leaves it
	src.devices[sataCtrl].parent = ttyS0
	ctrl, err := NewResolver(src, &mockIndex{}).FromSyspath(sataCtrl)
	require.NoError(t, err)
	assert.Nil(t, ctrl.Parent())
}

func TestParentMemoized(t *testing.T) {
	src := &mockSource{}
	src.On("Stat", sdaDisk).Return(Info{Syspath: sdaDisk, Subsystem: "block"}, nil).Once()
	src.On("Stat", sataCtrl).Return(Info{Syspath: sataCtrl, Subsystem: "pci"}, nil).Once()
	src.On("Parent", sdaDisk).Return(sataCtrl, nil).Once()
	r := NewResolver(src, &mockIndex{})

	d, err := r.FromSyspath(sdaDisk)
	require.NoError(t, err)
	p1 := d.Parent()
	p2 := d.Parent()
	require.NotNil(t, p1)
	assert.Same(t, p1, p2)
	src.AssertExpectations(t)
}

func TestAttributeMemoized(t *testing.T) {
	src := &mockSource{}
	src.On("Stat", memNull).Return(memNullInfo(), nil).Once()
	src.On("Attribute", memNull, "dev").Return("1:3", nil).Once()
	src.On("Attribute", memNull, "missing").Return("", ErrNotFound).Once()
	r := NewResolver(src, &mockIndex{})

	d, err := r.FromSyspath(memNull)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		v, err := d.Attribute("dev")
		require.NoError(t, err)
		assert.Equal(t, "1:3", v)

		v, err = d.Attribute("missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Empty(t, v)
	}
	src.AssertExpectations(t)
	src.AssertNotCalled(t, "List")
}

func TestFromEventUsesFrameOnly(t *testing.T) {
	src := &mockSource{}
	r := NewResolver(src, &mockIndex{})

	var props types.PropertyList
	props.Set("ACTION", "add")
	props.Set("DEVPATH", "/devices/pci0000:00/0000:00:1f.2")
	props.Set("SUBSYSTEM", "pci")
	props.Set("DRIVER", "ahci")
	props.Set("PCI_SLOT_NAME", "0000:00:1f.2")
	props.Set("SEQNUM", "1234")

	d, err := r.FromEvent(types.ActionAdd, props)
	require.NoError(t, err)
	assert.Equal(t, types.ActionAdd, d.Action())
	assert.Equal(t, sataCtrl, d.Syspath())
	assert.Equal(t, "/devices/pci0000:00/0000:00:1f.2", d.Devpath())
	assert.Equal(t, "pci", d.Subsystem())
	assert.Equal(t, "ahci", d.Driver())
	assert.Equal(t, uint64(1234), d.Seqnum())
	assert.Empty(t, d.Devnode())
	_, ok := d.Devnum()
	assert.False(t, ok)
	assert.Len(t, d.Properties(), 6)
	assert.Empty(t, d.Links())
	src.AssertNotCalled(t, "Stat", mock.Anything)
	src.AssertNotCalled(t, "Links", mock.Anything)
	src.AssertNotCalled(t, "Attribute", mock.Anything, mock.Anything)
}

func TestFromEventDevnodeAndLinks(t *testing.T) {
	r := NewResolver(&mockSource{}, &mockIndex{}, WithDevRoot("/tmp/dev"))

	var props types.PropertyList
	props.Set("DEVPATH", "/devices/virtual/block/loop0")
	props.Set("SUBSYSTEM", "block")
	props.Set("DEVNAME", "loop0")
	props.Set("MAJOR", "7")
	props.Set("MINOR", "0")
	props.Set("DEVLINKS", "/dev/disk/by-id/a /dev/disk/by-uuid/b /dev/disk/by-id/a")

	d, err := r.FromEvent(types.ActionChange, props)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dev/loop0", d.Devnode())
	devnum, ok := d.Devnum()
	assert.True(t, ok)
	assert.Equal(t, types.MkDevnum(7, 0), devnum)
	assert.Equal(t, []string{"/dev/disk/by-id/a", "/dev/disk/by-uuid/b"}, d.Links())

	// the event record is not shared with lookups
	src := newDiskSource()
	r2 := NewResolver(src, &mockIndex{})
	var props2 types.PropertyList
	props2.Set("DEVPATH", "/devices/pci0000:00/0000:00:1f.2")
	ev, err := r2.FromEvent(types.ActionAdd, props2)
	require.NoError(t, err)
	looked, err := r2.FromSyspath(sataCtrl)
	require.NoError(t, err)
	assert.NotSame(t, ev, looked)
	// attributes and parents are still available lazily
	v, err := ev.Attribute("vendor")
	require.NoError(t, err)
	assert.Equal(t, "0x8086", v)
	require.NotNil(t, ev.Parent())
	assert.Equal(t, pciRoot, ev.Parent().Syspath())
}

func TestFromEventRejectsIncomplete(t *testing.T) {
	r := NewResolver(&mockSource{}, &mockIndex{})

	var noDevpath types.PropertyList
	noDevpath.Set("SUBSYSTEM", "block")
	_, err := r.FromEvent(types.ActionAdd, noDevpath)
	assert.Error(t, err)

	var badMajor types.PropertyList
	badMajor.Set("DEVPATH", "/devices/virtual/block/loop0")
	badMajor.Set("DEVNAME", "loop0")
	badMajor.Set("MAJOR", "seven")
	badMajor.Set("MINOR", "0")
	_, err = r.FromEvent(types.ActionAdd, badMajor)
	assert.Error(t, err)

	var badSeqnum types.PropertyList
	badSeqnum.Set("DEVPATH", "/devices/virtual/block/loop0")
	badSeqnum.Set("SEQNUM", "x")
	_, err = r.FromEvent(types.ActionAdd, badSeqnum)
	assert.Error(t, err)
}

func TestFromEventDevpathStaysUnderSysRoot(t *testing.T) {
	for _, sysRoot := range []string{"/sys", "/tmp/root/sys", "/"} {
		r := NewResolver(&mockSource{}, &mockIndex{}, WithSysRoot(sysRoot))
		for _, devpath := range []string{
			"/../secret",
			"/..",
			"/",
			"/devices/../../etc",
			"/devices/./../../x",
			"/devices/virtual/mem/null/../../../../..",
		} {
			var props types.PropertyList
			props.Set("DEVPATH", devpath)
			d, err := r.FromEvent(types.ActionAdd, props)
			assert.Error(t, err, "%s: %q", sysRoot, devpath)
			assert.Nil(t, d, "%s: %q", sysRoot, devpath)
		}

		// a DEVPATH which looks like a syspath is still below the root
		var props types.PropertyList
		props.Set("DEVPATH", "/sys/module/loop")
		d, err := r.FromEvent(types.ActionAdd, props)
		require.NoError(t, err, sysRoot)
		assert.Equal(t, "/sys/module/loop", d.Devpath(), sysRoot)
	}
}

func TestLinksReadOnce(t *testing.T) {
	src := &mockSource{}
	src.On("Stat", memNull).Return(memNullInfo(), nil).Once()
	src.On("Links", "/dev/null").Return([]string{"/dev/zap", "/dev/zap", "/dev/char/1:3"}, nil).Once()
	r := NewResolver(src, &mockIndex{})

	d, err := r.FromSyspath(memNull)
	require.NoError(t, err)
	src.AssertNotCalled(t, "Links", mock.Anything)
	for i := 0; i < 3; i++ {
		assert.Equal(t, []string{"/dev/zap", "/dev/char/1:3"}, d.Links())
	}
	src.AssertExpectations(t)
}

func TestLinksWithoutDevnode(t *testing.T) {
	src := &mockSource{}
	src.On("Stat", sataCtrl).Return(Info{Syspath: sataCtrl, Subsystem: "pci"}, nil).Once()
	r := NewResolver(src, &mockIndex{})

	d, err := r.FromSyspath(sataCtrl)
	require.NoError(t, err)
	assert.Empty(t, d.Links())
	src.AssertNotCalled(t, "Links", mock.Anything)
}
