// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// DevType : kind of special file a device number refers to
type DevType byte

const (
	// DevTypeChar : character device
	DevTypeChar DevType = 'c'
	// DevTypeBlock : block device
	DevTypeBlock DevType = 'b'
)

// ParseDevType accepts c, char, b or block
func ParseDevType(s string) (DevType, error) {
	switch s {
	case "c", "char":
		return DevTypeChar, nil
	case "b", "block":
		return DevTypeBlock, nil
	}
	return 0, fmt.Errorf("invalid device type %q", s)
}

// Dir is the name of the /sys/dev subdirectory indexing this kind
func (t DevType) Dir() string {
	switch t {
	case DevTypeChar:
		return "char"
	case DevTypeBlock:
		return "block"
	}
	return ""
}

func (t DevType) String() string {
	if t.Dir() == "" {
		return fmt.Sprintf("DevType(%d)", byte(t))
	}
	return string(rune(t))
}

// Devnum : major and minor number of a device
type Devnum struct {
	Major uint32
	Minor uint32
}

// MkDevnum returns the Devnum for major:minor
func MkDevnum(major, minor uint32) Devnum {
	return Devnum{Major: major, Minor: minor}
}

// DevnumFromDev splits a kernel dev_t
func DevnumFromDev(dev uint64) Devnum {
	return Devnum{Major: unix.Major(dev), Minor: unix.Minor(dev)}
}

// Dev returns the kernel dev_t encoding
func (d Devnum) Dev() uint64 {
	return unix.Mkdev(d.Major, d.Minor)
}

func (d Devnum) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}

// ParseDevnum parses "major:minor" as found in the sysfs dev attribute
func ParseDevnum(s string) (Devnum, error) {
	majorStr, minorStr, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return Devnum{}, fmt.Errorf("invalid device number %q", s)
	}
	return ParseMajorMinor(majorStr, minorStr)
}

// ParseMajorMinor parses the MAJOR and MINOR uevent values
func ParseMajorMinor(majorStr, minorStr string) (Devnum, error) {
	major, err := strconv.ParseUint(majorStr, 10, 32)
	if err != nil {
		return Devnum{}, fmt.Errorf("invalid major %q: %w", majorStr, err)
	}
	minor, err := strconv.ParseUint(minorStr, 10, 32)
	if err != nil {
		return Devnum{}, fmt.Errorf("invalid minor %q: %w", minorStr, err)
	}
	return Devnum{Major: uint32(major), Minor: uint32(minor)}, nil
}
