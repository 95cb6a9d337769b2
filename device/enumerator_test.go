// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// five devices, three of them block devices
func newEnumSource() *fakeSource {
	src := newFakeSource()
	src.add("/sys/devices/virtual/mem/null", "", "mem", nil)
	src.add("/sys/devices/virtual/block/loop0", "", "block", nil)
	src.add("/sys/devices/pci0000:00/0000:00:1f.2", "", "pci", nil)
	src.add("/sys/devices/virtual/block/loop1", "", "block", nil)
	src.add("/sys/devices/virtual/block/ram0", "", "block", nil)
	return src
}

func TestEnumerateBlock(t *testing.T) {
	r := NewResolver(newEnumSource(), &mockIndex{})

	e := NewEnumerator(r, "block")
	var got []string
	for e.Next() {
		assert.Equal(t, "block", e.Device().Subsystem())
		got = append(got, e.Syspath())
	}
	require.NoError(t, e.Err())
	want := []string{
		"/sys/devices/virtual/block/loop0",
		"/sys/devices/virtual/block/loop1",
		"/sys/devices/virtual/block/ram0",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected block devices (-want +got):\n%s", diff)
	}
}

func TestEnumerateFilterIsSubset(t *testing.T) {
	r := NewResolver(newEnumSource(), &mockIndex{})

	all, err := NewEnumerator(r).Results()
	require.NoError(t, err)
	assert.Len(t, all, 5)

	for _, subsystem := range []string{"block", "mem", "pci", "usb"} {
		filtered, err := NewEnumerator(r, subsystem).Results()
		require.NoError(t, err)

		var want []string
		for _, syspath := range all {
			d, err := r.FromSyspath(syspath)
			require.NoError(t, err)
			if d.Subsystem() == subsystem {
				want = append(want, syspath)
			}
		}
		if diff := cmp.Diff(want, filtered); diff != "" {
			t.Errorf("%s: filtered result differs (-want +got):\n%s", subsystem, diff)
		}
	}
}

func TestEnumerateSubsystemSet(t *testing.T) {
	r := NewResolver(newEnumSource(), &mockIndex{})

	got, err := NewEnumerator(r, "mem", "pci").Results()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/sys/devices/virtual/mem/null",
		"/sys/devices/pci0000:00/0000:00:1f.2",
	}, got)
}

func TestEnumerateSkipsVanishedAndDuplicates(t *testing.T) {
	src := newEnumSource()
	src.aliases["/sys/class/block/loop0"] = "/sys/devices/virtual/block/loop0"
	src.list = append([]string{
		"/sys/devices/virtual/block/gone",
		"/sys/class/block/loop0",
	}, src.list...)
	src.list = append(src.list, "/sys/devices/virtual/block/also-gone")
	r := NewResolver(src, &mockIndex{})

	e := NewEnumerator(r, "block")
	got, err := e.Results()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/sys/devices/virtual/block/loop0",
		"/sys/devices/virtual/block/loop1",
		"/sys/devices/virtual/block/ram0",
	}, got)
	assert.Equal(t, 2, e.Skipped())
}

func TestEnumerateNotRestartable(t *testing.T) {
	r := NewResolver(newEnumSource(), &mockIndex{})

	e := NewEnumerator(r)
	first, err := e.Results()
	require.NoError(t, err)
	assert.Len(t, first, 5)
	assert.False(t, e.Next())
	assert.Empty(t, e.Syspath())
	assert.Nil(t, e.Device())
	again, err := e.Results()
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEnumerateDoesNotReadLinks(t *testing.T) {
	src := &mockSource{}
	src.On("List").Return([]string{memNull, sataCtrl}, nil).Once()
	src.On("Stat", memNull).Return(memNullInfo(), nil).Once()
	src.On("Stat", sataCtrl).Return(Info{Syspath: sataCtrl, Subsystem: "pci"}, nil).Once()
	r := NewResolver(src, &mockIndex{})

	got, err := NewEnumerator(r).Results()
	require.NoError(t, err)
	assert.Equal(t, []string{memNull, sataCtrl}, got)
	src.AssertExpectations(t)
	src.AssertNotCalled(t, "Links", mock.Anything)
}

func TestEnumerateListFailure(t *testing.T) {
	src := &mockSource{}
	listErr := errors.New("permission denied")
	src.On("List").Return(nil, listErr).Once()
	r := NewResolver(src, &mockIndex{})

	e := NewEnumerator(r)
	assert.False(t, e.Next())
	assert.ErrorIs(t, e.Err(), listErr)
	assert.False(t, e.Next())
	src.AssertExpectations(t)
}
