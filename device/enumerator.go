// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
)

// Enumerator yields the syspaths of the devices known to a Resolver's
// Source, optionally restricted to a set of subsystems. Candidates are
// listed on the first call to Next and resolved one at a time; devices
// which went away in between are skipped and counted. Resolving a
// candidate does not read its devnode links. An Enumerator cannot be
// restarted.
//
//	e := device.NewEnumerator(r, "block")
//	for e.Next() {
//		fmt.Println(e.Syspath())
//	}
//	if err := e.Err(); err != nil {
//		...
//	}
type Enumerator struct {
	r          *Resolver
	subsystems map[string]struct{}

	listed     bool
	candidates []string
	pos        int
	seen       map[string]struct{}
	cur        *Device
	skipped    int
	err        error
	done       bool
}

// NewEnumerator returns an Enumerator over the devices whose subsystem is
// one of subsystems, or over all devices if none is given
func NewEnumerator(r *Resolver, subsystems ...string) *Enumerator {
	e := &Enumerator{
		r:    r,
		seen: make(map[string]struct{}),
	}
	if len(subsystems) > 0 {
		e.subsystems = make(map[string]struct{}, len(subsystems))
		for _, s := range subsystems {
			e.subsystems[s] = struct{}{}
		}
	}
	return e
}

func (e *Enumerator) match(d *Device) bool {
	if e.subsystems == nil {
		return true
	}
	_, ok := e.subsystems[d.Subsystem()]
	return ok
}

// Next advances to the next matching device
func (e *Enumerator) Next() bool {
	if e.done {
		return false
	}
	if !e.listed {
		e.listed = true
		candidates, err := e.r.src.List()
		if err != nil {
			e.err = fmt.Errorf("listing devices: %w", err)
			e.done = true
			return false
		}
		e.candidates = candidates
		e.r.log.Functionf("enumerate: %d candidates", len(candidates))
	}
	for e.pos < len(e.candidates) {
		candidate := e.candidates[e.pos]
		e.pos++
		d, err := e.r.FromSyspath(candidate)
		if err != nil {
			e.skipped++
			e.r.log.Functionf("enumerate: skipping %s: %v", candidate, err)
			continue
		}
		if _, ok := e.seen[d.Syspath()]; ok {
			continue
		}
		e.seen[d.Syspath()] = struct{}{}
		if !e.match(d) {
			continue
		}
		e.cur = d
		return true
	}
	e.done = true
	e.cur = nil
	e.candidates = nil
	return false
}

// Syspath of the current device
func (e *Enumerator) Syspath() string {
	if e.cur == nil {
		return ""
	}
	return e.cur.Syspath()
}

// Device is the current device
func (e *Enumerator) Device() *Device {
	return e.cur
}

// Skipped is the number of candidates which could not be resolved so far
func (e *Enumerator) Skipped() int {
	return e.skipped
}

// Err reports a failure to list candidates
func (e *Enumerator) Err() error {
	return e.err
}

// Results drains the remaining syspaths
func (e *Enumerator) Results() ([]string, error) {
	var out []string
	for e.Next() {
		out = append(out, e.Syspath())
	}
	return out, e.Err()
}
