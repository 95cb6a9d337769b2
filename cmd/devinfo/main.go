// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

// devinfo looks up a device, its parents and all devices of a subsystem,
// then prints events from a monitor socket until ENTER is pressed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lf-edge/eve/pkg/devinfo/agentlog"
	"github.com/lf-edge/eve/pkg/devinfo/config"
	"github.com/lf-edge/eve/pkg/devinfo/device"
	"github.com/lf-edge/eve/pkg/devinfo/monitor"
	"github.com/lf-edge/eve/pkg/devinfo/types"
	"github.com/lf-edge/eve/pkg/devinfo/udev"
	"github.com/lf-edge/eve/pkg/devinfo/watch"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// Version is set at build time
var Version = "dev"

const (
	defaultSyspath  = "/devices/virtual/mem/null"
	defaultEndpoint = "@/org/kernel/udev/monitor"
	agentName       = "devinfo"
)

type options struct {
	syspath     string
	subsystem   string
	socket      string
	debug       bool
	configFile  string
	format      string
	waitDevnode time.Duration
	noMonitor   bool
}

type runner struct {
	opts  options
	out   io.Writer
	stdin int
	ctx   *udev.Context
	p     printer
}

func newRootCmd(out io.Writer, stdin int) *cobra.Command {
	r := &runner{out: out, stdin: stdin}
	cmd := &cobra.Command{
		Use:           agentName,
		Short:         "Show devices, their parents and device events",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run()
		},
	}
	cmd.SetOut(out)
	flags := cmd.Flags()
	flags.StringVarP(&r.opts.syspath, "syspath", "p", defaultSyspath, "device to look at")
	flags.StringVarP(&r.opts.subsystem, "subsystem", "s", "", "only enumerate devices of this subsystem")
	flags.StringVarP(&r.opts.socket, "socket", "S", defaultEndpoint,
		"monitor endpoint: @abstract, /path, kernel or udev")
	flags.BoolVarP(&r.opts.debug, "debug", "d", false, "log at info priority at least")
	flags.StringVar(&r.opts.configFile, "config", config.DefaultConfigFile, "udev.conf to read")
	flags.StringVar(&r.opts.format, "format", "text", "output format: text or yaml")
	flags.DurationVar(&r.opts.waitDevnode, "wait-devnode", 0,
		"wait up to this long for the devnode of added devices to appear")
	flags.BoolVar(&r.opts.noMonitor, "no-monitor", false, "do not wait for events")
	return cmd
}

func main() {
	cmd := newRootCmd(os.Stdout, int(os.Stdin.Fd()))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", agentName, err)
		os.Exit(1)
	}
}

func (r *runner) logFn(priority int, file string, line int, fn string, msg string) {
	fmt.Fprintf(r.out, "%s: %s %s:%d %s\n", agentName, fn, filepath.Base(file), line,
		strings.TrimRight(msg, "\n"))
}

func (r *runner) run() error {
	p, err := newPrinter(r.opts.format, r.out)
	if err != nil {
		return err
	}
	r.p = p
	cfg, err := config.Load(r.opts.configFile)
	if err != nil {
		return err
	}
	r.ctx = udev.New(cfg, udev.WithLogFn(r.logFn))
	fmt.Fprintf(r.out, "context: %p\n", r.ctx)
	if r.opts.debug && r.ctx.LogPriority() < agentlog.LogInfo {
		r.ctx.SetLogPriority(agentlog.LogInfo)
	}
	fmt.Fprintf(r.out, "sys_path: '%s'\n", r.ctx.SysPath())
	fmt.Fprintf(r.out, "dev_path: '%s'\n", r.ctx.DevPath())

	resolver := r.ctx.NewResolver()
	r.showDevice(resolver, r.opts.syspath)
	r.showDevnum(resolver, types.DevTypeChar, types.MkDevnum(1, 3))
	r.showParents(resolver, r.opts.syspath)
	if err := r.enumerate(); err != nil {
		return err
	}
	if r.opts.noMonitor {
		return nil
	}
	return r.monitor(r.opts.socket)
}

func (r *runner) showDevice(resolver *device.Resolver, syspath string) {
	fmt.Fprintf(r.out, "looking at device: %s\n", syspath)
	d, err := resolver.FromSyspath(syspath)
	if err != nil {
		fmt.Fprintf(r.out, "no device: %v\n", err)
		return
	}
	r.p.print(d)
}

func (r *runner) showDevnum(resolver *device.Resolver, kind types.DevType, devnum types.Devnum) {
	fmt.Fprintf(r.out, "looking up device: %s %s\n", kind, devnum)
	d, err := resolver.FromDevnum(kind, devnum)
	if err != nil {
		fmt.Fprintf(r.out, "no device: %v\n", err)
		return
	}
	r.p.print(d)
}

func (r *runner) showParents(resolver *device.Resolver, syspath string) {
	fmt.Fprintf(r.out, "looking at device: %s\n", syspath)
	d, err := resolver.FromSyspath(syspath)
	if err != nil {
		return
	}
	// the second walk is served from the parent cache
	for _, pass := range []string{"looking at parents", "looking at parents again"} {
		fmt.Fprintln(r.out, pass)
		for p := d; p != nil; p = p.Parent() {
			r.p.print(p)
		}
	}
}

func (r *runner) enumerate() error {
	var subsystems []string
	if r.opts.subsystem != "" {
		subsystems = append(subsystems, r.opts.subsystem)
	}
	e := r.ctx.NewEnumerator(subsystems...)
	count := 0
	for e.Next() {
		d := e.Device()
		fmt.Fprintf(r.out, "device:    '%s' (%s) '%s'\n", d.Syspath(), d.Subsystem(), d.Sysname())
		count++
	}
	if err := e.Err(); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "found %d devices\n", count)
	if skipped := e.Skipped(); skipped > 0 {
		fmt.Fprintf(r.out, "skipped %d devices\n", skipped)
	}
	fmt.Fprintln(r.out)
	return nil
}

// monitor polls the monitor and stdin until stdin is readable
func (r *runner) monitor(endpoint string) error {
	m, err := r.ctx.NewMonitor(endpoint)
	if err != nil {
		fmt.Fprintln(r.out, "no socket")
		return err
	}
	defer m.Close()
	if err := m.EnableReceiving(); err != nil {
		fmt.Fprintln(r.out, "bind failed")
		return err
	}
	return r.monitorLoop(m)
}

func (r *runner) monitorLoop(m *monitor.Monitor) error {
	endpoint := m.Endpoint()
	fds := []unix.PollFd{
		{Fd: int32(m.Fd()), Events: unix.POLLIN},
		{Fd: int32(r.stdin), Events: unix.POLLIN},
	}
	for {
		fmt.Fprintf(r.out, "waiting for events on %s, press ENTER to exit\n", endpoint)
		n, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		fmt.Fprintf(r.out, "poll fd count: %d\n", n)

		if fds[0].Revents&unix.POLLIN != 0 {
			d, err := m.Receive()
			switch {
			case err == nil:
				r.waitDevnode(d)
				r.p.print(d)
			case recoverable(err):
				fmt.Fprintf(r.out, "no device from socket: %v\n", err)
			default:
				return err
			}
		}
		if fds[1].Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			fmt.Fprintln(r.out, "exiting loop")
			return nil
		}
	}
}

// recoverable reports whether the monitor stays usable after err
func recoverable(err error) bool {
	return errors.Is(err, monitor.ErrMalformed) ||
		errors.Is(err, monitor.ErrWouldBlock) ||
		errors.Is(err, monitor.ErrOverflow)
}

func (r *runner) waitDevnode(d *device.Device) {
	if r.opts.waitDevnode <= 0 || d.Action() != types.ActionAdd || d.Devnode() == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.waitDevnode)
	defer cancel()
	if err := watch.WaitForFile(ctx, d.Devnode()); err != nil {
		r.ctx.Log().Warnf("waitDevnode: %s: %v", d.Devnode(), err)
	}
}
