// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package monitor receives device events from a netlink or unix datagram
// socket. A Monitor owns no goroutines: the caller polls Fd() and calls
// Receive when it is readable.
package monitor

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lf-edge/eve/pkg/devinfo/base"
	"github.com/lf-edge/eve/pkg/devinfo/device"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	// ErrInvalidEndpoint is returned for an endpoint that cannot be parsed
	ErrInvalidEndpoint = errors.New("invalid monitor endpoint")
	// ErrBindFailed is returned when the socket cannot be created or bound.
	// The monitor is closed afterwards.
	ErrBindFailed = errors.New("monitor bind failed")
	// ErrMalformed is returned for a frame which could not be decoded.
	// The frame is dropped; the monitor stays usable.
	ErrMalformed = errors.New("malformed event frame")
	// ErrWouldBlock is returned when no frame is pending
	ErrWouldBlock = errors.New("no event pending")
	// ErrOverflow is returned when the socket receive queue overflowed and
	// events were lost. The monitor stays usable.
	ErrOverflow = errors.New("receive queue overflowed")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("monitor closed")
)

// State of a Monitor
type State int

const (
	// StateCreated : endpoint parsed, no socket yet
	StateCreated State = iota
	// StateBound : socket bound, options being applied
	StateBound
	// StateReceiving : frames can be received
	StateReceiving
	// StateClosed : socket released
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBound:
		return "bound"
	case StateReceiving:
		return "receiving"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	// big enough for a libudev frame carrying a full property set
	defaultFrameSize = 16 * 1024
	// what udevd asks for on its own monitor sockets
	defaultReceiveBuffer = 128 * 1024 * 1024
)

// Monitor receives event frames on one endpoint
type Monitor struct {
	endpoint Endpoint
	r        *device.Resolver
	log      *base.LogObject

	fd          int
	state       State
	buf         []byte
	oob         []byte
	rcvbuf      int
	createdPath string
	trusted     map[uint32]struct{}
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLogObject sets where the monitor logs to
func WithLogObject(log *base.LogObject) Option {
	return func(m *Monitor) {
		m.log = log
	}
}

// WithReceiveBuffer sets SO_RCVBUF of the socket; 0 keeps the system
// default
func WithReceiveBuffer(size int) Option {
	return func(m *Monitor) {
		m.rcvbuf = size
	}
}

// WithTrustedUIDs sets the uids which may send to a unix endpoint. By
// default these are root and the effective uid of the process.
func WithTrustedUIDs(uids ...uint32) Option {
	return func(m *Monitor) {
		m.trusted = make(map[uint32]struct{}, len(uids))
		for _, uid := range uids {
			m.trusted[uid] = struct{}{}
		}
	}
}

// New parses endpoint and returns a Monitor in StateCreated. Devices
// built from received frames use the roots of r.
func New(endpoint string, r *device.Resolver, opts ...Option) (*Monitor, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		endpoint: ep,
		r:        r,
		fd:       -1,
		state:    StateCreated,
		buf:      make([]byte, defaultFrameSize),
		rcvbuf:   defaultReceiveBuffer,
	}
	if !ep.isNetlink() {
		m.oob = make([]byte, unix.CmsgSpace(unix.SizeofUcred))
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.trusted == nil {
		m.trusted = map[uint32]struct{}{
			0:                    {},
			uint32(os.Geteuid()): {},
		}
	}
	if m.log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		m.log = base.NewSourceLogObject(logger, "monitor", 0)
	}
	m.log = m.log.CloneAndAddField("endpoint", ep.String())
	return m, nil
}

// Endpoint returns the parsed endpoint
func (m *Monitor) Endpoint() Endpoint {
	return m.endpoint
}

// State returns the current state
func (m *Monitor) State() State {
	return m.state
}

// Fd returns the socket for use with poll(2), or -1 if there is none
func (m *Monitor) Fd() int {
	return m.fd
}

// EnableReceiving creates and binds the socket. On failure the monitor
// is closed and ErrBindFailed is returned.
func (m *Monitor) EnableReceiving() error {
	switch m.state {
	case StateClosed:
		return ErrClosed
	case StateReceiving:
		return nil
	}
	sotype, proto := unix.SOCK_DGRAM, 0
	family := unix.AF_UNIX
	if m.endpoint.isNetlink() {
		family, sotype, proto = unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_KOBJECT_UEVENT
	}
	fd, err := unix.Socket(family, sotype|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		m.state = StateClosed
		return fmt.Errorf("%w: socket for %s: %v", ErrBindFailed, m.endpoint, err)
	}
	if err := unix.Bind(fd, m.endpoint.sockaddr()); err != nil {
		unix.Close(fd)
		m.state = StateClosed
		return fmt.Errorf("%w: bind %s: %v", ErrBindFailed, m.endpoint, err)
	}
	m.fd = fd
	m.state = StateBound
	if m.endpoint.Kind == EndpointPath {
		m.createdPath = m.endpoint.Name
	}
	if !m.endpoint.isNetlink() {
		// senders are checked against the trusted uids
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
			m.Close()
			return fmt.Errorf("%w: credentials on %s: %v", ErrBindFailed, m.endpoint, err)
		}
	}

	if m.rcvbuf > 0 {
		// SO_RCVBUFFORCE needs CAP_NET_ADMIN
		err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, m.rcvbuf)
		if err != nil {
			err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, m.rcvbuf)
		}
		if err != nil {
			m.log.Warnf("EnableReceiving: receive buffer %d: %v", m.rcvbuf, err)
		}
	}
	m.state = StateReceiving
	m.log.Functionf("EnableReceiving: fd %d", fd)
	return nil
}

// Receive returns the device carried by the next pending frame without
// blocking
func (m *Monitor) Receive() (*device.Device, error) {
	switch m.state {
	case StateClosed:
		return nil, ErrClosed
	case StateReceiving:
	default:
		return nil, ErrWouldBlock
	}
	n, oobn, recvflags, from, err := unix.Recvmsg(m.fd, m.buf, m.oob, unix.MSG_DONTWAIT)
	if err != nil {
		return nil, m.receiveError(err)
	}
	if recvflags&unix.MSG_TRUNC != 0 {
		m.log.Warnf("Receive: dropped frame larger than %d bytes", len(m.buf))
		return nil, fmt.Errorf("%w: truncated to %d bytes", ErrMalformed, n)
	}
	if !m.endpoint.isNetlink() {
		if recvflags&unix.MSG_CTRUNC != 0 {
			m.log.Warnf("Receive: dropped frame with truncated credentials")
			return nil, fmt.Errorf("%w: truncated credentials", ErrMalformed)
		}
		cred, err := senderCredentials(m.oob[:oobn])
		if err != nil {
			m.log.Warnf("Receive: dropped frame: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if _, ok := m.trusted[cred.Uid]; !ok {
			m.log.Warnf("Receive: dropped frame sent by uid %d pid %d", cred.Uid, cred.Pid)
			return nil, fmt.Errorf("%w: sender uid %d is not trusted", ErrMalformed, cred.Uid)
		}
	}
	if m.endpoint.Kind == EndpointKernel {
		// only the kernel itself sends with port id 0
		sa, ok := from.(*unix.SockaddrNetlink)
		if !ok || sa.Pid != 0 {
			m.log.Warnf("Receive: dropped frame not sent by the kernel")
			return nil, fmt.Errorf("%w: sender is not the kernel", ErrMalformed)
		}
	}
	f, err := decodeFrame(m.buf[:n])
	if err != nil {
		m.log.Warnf("Receive: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	d, err := m.r.FromEvent(f.action, f.properties)
	if err != nil {
		m.log.Warnf("Receive: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m.log.Tracef("Receive: %s %s seqnum %d", d.Action(), d.Devpath(), d.Seqnum())
	return d, nil
}

// receiveError maps a recvmsg failure to the error returned by Receive
func (m *Monitor) receiveError(err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return ErrWouldBlock
	case errors.Is(err, unix.ENOBUFS):
		m.log.Warnf("Receive: events lost on %s: %v", m.endpoint, err)
		return fmt.Errorf("%w on %s", ErrOverflow, m.endpoint)
	}
	return fmt.Errorf("receive on %s: %w", m.endpoint, err)
}

// senderCredentials returns the credentials the kernel attached to a
// datagram received with SO_PASSCRED
func senderCredentials(oob []byte) (*unix.Ucred, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("control message: %w", err)
	}
	for i := range msgs {
		if msgs[i].Header.Level == unix.SOL_SOCKET && msgs[i].Header.Type == unix.SCM_CREDENTIALS {
			return unix.ParseUnixCredentials(&msgs[i])
		}
	}
	return nil, errors.New("no sender credentials")
}

// Close releases the socket and removes a filesystem socket created by
// EnableReceiving
func (m *Monitor) Close() error {
	if m.state == StateClosed {
		return ErrClosed
	}
	m.state = StateClosed
	var err error
	if m.fd >= 0 {
		err = unix.Close(m.fd)
		m.fd = -1
	}
	if m.createdPath != "" {
		if rerr := os.Remove(m.createdPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			m.log.Warnf("Close: %v", rerr)
		}
		m.createdPath = ""
	}
	m.log.Functionf("Close: done")
	return err
}
