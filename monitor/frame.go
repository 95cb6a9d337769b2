// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/eshard/uevent"
	"github.com/lf-edge/eve/pkg/devinfo/types"
)

// Frames re-sent by udevd start with struct udev_monitor_netlink_header:
// "libudev\0", then u32 fields magic (big endian), header_size,
// properties_off, properties_len, two filter hashes and a 64 bit tag
// bloom filter, the rest in host order.
var libudevPrefix = []byte("libudev\x00")

const (
	libudevMagic      = 0xfeedcafe
	libudevHeaderSize = 40
)

type frame struct {
	action     types.Action
	properties types.PropertyList
}

func decodeFrame(b []byte) (frame, error) {
	if bytes.HasPrefix(b, libudevPrefix) {
		return decodeLibudevFrame(b)
	}
	return decodeKernelFrame(b)
}

// decodeKernelFrame decodes "action@devpath\0KEY=VALUE\0...SEQNUM=n\0"
func decodeKernelFrame(b []byte) (frame, error) {
	header, rest, found := bytes.Cut(b, []byte{0})
	if !found {
		return frame{}, fmt.Errorf("unterminated header")
	}
	headerAction, headerDevpath, ok := strings.Cut(string(header), "@")
	if !ok || headerAction == "" || headerDevpath == "" {
		return frame{}, fmt.Errorf("invalid header %q", header)
	}
	props, err := splitProperties(rest)
	if err != nil {
		return frame{}, err
	}

	evt, err := uevent.NewDecoder(bytes.NewReader(b)).Decode()
	if err != nil {
		return frame{}, fmt.Errorf("decoding uevent: %v", err)
	}
	evtAction := strings.TrimRight(string(evt.Action), "\x00")
	evtDevpath := strings.TrimRight(evt.Devpath, "\x00")
	if evtAction != headerAction || evtDevpath != headerDevpath {
		return frame{}, fmt.Errorf("header %q does not match ACTION=%s DEVPATH=%s",
			header, evtAction, evtDevpath)
	}
	action, err := types.ParseAction(evtAction)
	if err != nil {
		return frame{}, err
	}
	return frame{action: action, properties: props}, nil
}

func decodeLibudevFrame(b []byte) (frame, error) {
	if len(b) < libudevHeaderSize {
		return frame{}, fmt.Errorf("short libudev header: %d bytes", len(b))
	}
	if magic := binary.BigEndian.Uint32(b[8:12]); magic != libudevMagic {
		return frame{}, fmt.Errorf("bad libudev magic 0x%08x", magic)
	}
	headerSize := binary.NativeEndian.Uint32(b[12:16])
	off := uint64(binary.NativeEndian.Uint32(b[16:20]))
	length := uint64(binary.NativeEndian.Uint32(b[20:24]))
	if headerSize < libudevHeaderSize || off < uint64(headerSize) ||
		off+length > uint64(len(b)) {
		return frame{}, fmt.Errorf("properties %d+%d outside of %d byte frame",
			off, length, len(b))
	}
	props, err := splitProperties(b[off : off+length])
	if err != nil {
		return frame{}, err
	}
	actionStr, _ := props.Get("ACTION")
	action, err := types.ParseAction(actionStr)
	if err != nil {
		return frame{}, err
	}
	if devpath, _ := props.Get("DEVPATH"); devpath == "" {
		return frame{}, fmt.Errorf("no DEVPATH")
	}
	return frame{action: action, properties: props}, nil
}

// splitProperties splits NUL terminated KEY=VALUE strings, keeping their
// order; a repeated key keeps its first position and last value
func splitProperties(b []byte) (types.PropertyList, error) {
	var props types.PropertyList
	for len(b) > 0 {
		var field []byte
		field, b, _ = bytes.Cut(b, []byte{0})
		if len(field) == 0 {
			continue
		}
		key, value, found := strings.Cut(string(field), "=")
		if !found || key == "" {
			return types.PropertyList{}, fmt.Errorf("invalid property %q", field)
		}
		props.Set(key, value)
	}
	return props, nil
}
