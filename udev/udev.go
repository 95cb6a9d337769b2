// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package udev ties together configuration, logging and the sysfs tree
// into a Context from which resolvers, enumerators and monitors are made.
package udev

import (
	"io"
	"os"

	"github.com/lf-edge/eve/pkg/devinfo/agentlog"
	"github.com/lf-edge/eve/pkg/devinfo/base"
	"github.com/lf-edge/eve/pkg/devinfo/config"
	"github.com/lf-edge/eve/pkg/devinfo/device"
	"github.com/lf-edge/eve/pkg/devinfo/monitor"
	"github.com/lf-edge/eve/pkg/devinfo/sysfs"
	"github.com/sirupsen/logrus"
)

const logSource = "devinfo"

// Context is the root object. Log settings live here, never in package
// state, so two contexts can log differently. A Context is not safe for
// concurrent use.
type Context struct {
	cfg      config.Config
	priority int
	logger   *logrus.Logger
	log      *base.LogObject
	hook     *agentlog.CallbackHook
	tree     *sysfs.Tree
	resolver *device.Resolver
}

type options struct {
	logFn  agentlog.LogFunc
	output io.Writer
}

// Option configures a Context
type Option func(*options)

// WithLogFn registers fn for all messages at or above the configured
// priority
func WithLogFn(fn agentlog.LogFunc) Option {
	return func(o *options) {
		o.logFn = fn
	}
}

// WithLogOutput sets where messages go while no log function is
// registered. The default is stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// New returns a Context for cfg
func New(cfg config.Config, opts ...Option) *Context {
	o := options{output: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	logger, log, hook := agentlog.InitWithOutput(logSource, cfg.LogPriority, o.output)
	if o.logFn != nil {
		hook.SetFunc(o.logFn)
	}
	ctx := &Context{
		cfg:      cfg,
		priority: cfg.LogPriority,
		logger:   logger,
		log:      log,
		hook:     hook,
	}
	ctx.tree = sysfs.New(cfg.SysRoot, cfg.DevRoot, log.CloneAndAddField("component", "sysfs"))
	log.Functionf("context created: sys %s dev %s log %s",
		ctx.SysPath(), ctx.DevPath(), agentlog.PriorityName(ctx.priority))
	return ctx
}

// SysPath returns the sysfs mount point
func (ctx *Context) SysPath() string {
	return ctx.tree.SysRoot()
}

// DevPath returns the device node directory
func (ctx *Context) DevPath() string {
	return ctx.tree.DevRoot()
}

// LogPriority returns the syslog priority messages are filtered at
func (ctx *Context) LogPriority() int {
	return ctx.priority
}

// SetLogPriority changes the filter priority
func (ctx *Context) SetLogPriority(priority int) {
	ctx.priority = priority
	ctx.logger.SetLevel(agentlog.PriorityToLevel(priority))
}

// SetLogFn replaces the log function; nil logs to the output again
func (ctx *Context) SetLogFn(fn agentlog.LogFunc) {
	ctx.hook.SetFunc(fn)
}

// Log returns the context's log object
func (ctx *Context) Log() *base.LogObject {
	return ctx.log
}

// NewResolver returns a Resolver of its own, for use from another
// goroutine
func (ctx *Context) NewResolver() *device.Resolver {
	return device.NewResolver(ctx.tree, ctx.tree,
		device.WithSysRoot(ctx.SysPath()),
		device.WithDevRoot(ctx.DevPath()),
		device.WithLogObject(ctx.log.CloneAndAddField("component", "resolver")))
}

// Resolver returns the resolver shared by enumerators and monitors of
// this context
func (ctx *Context) Resolver() *device.Resolver {
	if ctx.resolver == nil {
		ctx.resolver = ctx.NewResolver()
	}
	return ctx.resolver
}

// NewEnumerator lists devices of the given subsystems, or all devices
func (ctx *Context) NewEnumerator(subsystems ...string) *device.Enumerator {
	return device.NewEnumerator(ctx.Resolver(), subsystems...)
}

// NewMonitor returns a monitor on endpoint, not yet receiving
func (ctx *Context) NewMonitor(endpoint string) (*monitor.Monitor, error) {
	return monitor.New(endpoint, ctx.Resolver(),
		monitor.WithLogObject(ctx.log.CloneAndAddField("component", "monitor")))
}
