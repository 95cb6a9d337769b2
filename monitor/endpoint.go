// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// EndpointKind says which transport an Endpoint uses
type EndpointKind int

const (
	// EndpointAbstract : unix datagram socket in the abstract namespace
	EndpointAbstract EndpointKind = iota
	// EndpointPath : unix datagram socket bound to a filesystem path
	EndpointPath
	// EndpointKernel : netlink uevent multicast sent by the kernel
	EndpointKernel
	// EndpointUdev : netlink uevent multicast re-sent by udevd
	EndpointUdev
)

const (
	kernelEndpoint = "kernel"
	udevEndpoint   = "udev"

	// sizeof(sockaddr_un.sun_path) minus the terminating NUL
	maxSocketPathLen = 107

	netlinkGroupKernel = 1
	netlinkGroupUdev   = 2
)

// Endpoint is a parsed monitor address
type Endpoint struct {
	Kind EndpointKind
	// Name is the socket address for unix endpoints, including the
	// leading '@' of abstract names
	Name string
}

// ParseEndpoint accepts "@name" (abstract socket), an absolute path
// (filesystem socket), "kernel" or "udev" (netlink)
func ParseEndpoint(s string) (Endpoint, error) {
	switch {
	case s == kernelEndpoint:
		return Endpoint{Kind: EndpointKernel, Name: s}, nil
	case s == udevEndpoint:
		return Endpoint{Kind: EndpointUdev, Name: s}, nil
	case len(s) > maxSocketPathLen:
		return Endpoint{}, fmt.Errorf("%w: %q longer than %d bytes",
			ErrInvalidEndpoint, s, maxSocketPathLen)
	case strings.ContainsRune(s, 0):
		return Endpoint{}, fmt.Errorf("%w: %q contains NUL", ErrInvalidEndpoint, s)
	case strings.HasPrefix(s, "@"):
		if len(s) == 1 {
			return Endpoint{}, fmt.Errorf("%w: empty abstract name", ErrInvalidEndpoint)
		}
		return Endpoint{Kind: EndpointAbstract, Name: s}, nil
	case filepath.IsAbs(s):
		if strings.HasSuffix(s, "/") {
			return Endpoint{}, fmt.Errorf("%w: %q is a directory", ErrInvalidEndpoint, s)
		}
		return Endpoint{Kind: EndpointPath, Name: filepath.Clean(s)}, nil
	}
	return Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidEndpoint, s)
}

func (e Endpoint) String() string {
	return e.Name
}

func (e Endpoint) isNetlink() bool {
	return e.Kind == EndpointKernel || e.Kind == EndpointUdev
}

func (e Endpoint) sockaddr() unix.Sockaddr {
	switch e.Kind {
	case EndpointKernel:
		return &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: netlinkGroupKernel}
	case EndpointUdev:
		return &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: netlinkGroupUdev}
	}
	// x/sys/unix maps a leading '@' to the abstract namespace
	return &unix.SockaddrUnix{Name: e.Name}
}
