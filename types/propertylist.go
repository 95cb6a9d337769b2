// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package types

// Entry is one name/value pair of a PropertyList
type Entry struct {
	Name  string
	Value string
}

// PropertyList is an ordered set of names with optional values.
// Iteration follows insertion order; setting an existing name replaces
// its value in place. The zero value is an empty list.
type PropertyList struct {
	entries []Entry
	index   map[string]int
}

// Set adds name=value, or replaces the value if name is already present
func (pl *PropertyList) Set(name, value string) {
	if i, ok := pl.index[name]; ok {
		pl.entries[i].Value = value
		return
	}
	if pl.index == nil {
		pl.index = make(map[string]int)
	}
	pl.index[name] = len(pl.entries)
	pl.entries = append(pl.entries, Entry{Name: name, Value: value})
}

// Add adds a name without a value. It reports false if the name was
// already in the list.
func (pl *PropertyList) Add(name string) bool {
	if pl.Has(name) {
		return false
	}
	pl.Set(name, "")
	return true
}

// Get returns the value for name
func (pl *PropertyList) Get(name string) (string, bool) {
	i, ok := pl.index[name]
	if !ok {
		return "", false
	}
	return pl.entries[i].Value, true
}

// Has reports whether name is in the list
func (pl *PropertyList) Has(name string) bool {
	_, ok := pl.index[name]
	return ok
}

// Len returns the number of entries
func (pl *PropertyList) Len() int {
	return len(pl.entries)
}

// Entries returns a copy of the entries in insertion order
func (pl *PropertyList) Entries() []Entry {
	out := make([]Entry, len(pl.entries))
	copy(out, pl.entries)
	return out
}

// Names returns the names in insertion order
func (pl *PropertyList) Names() []string {
	out := make([]string, len(pl.entries))
	for i, e := range pl.entries {
		out[i] = e.Name
	}
	return out
}
