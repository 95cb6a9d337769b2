// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/lf-edge/eve/pkg/devinfo/device"
	"gopkg.in/yaml.v2"
)

type printer interface {
	print(d *device.Device)
}

func newPrinter(format string, out io.Writer) (printer, error) {
	switch format {
	case "text":
		return textPrinter{out: out}, nil
	case "yaml":
		return yamlPrinter{out: out}, nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

type textPrinter struct {
	out io.Writer
}

func (p textPrinter) print(d *device.Device) {
	w := p.out
	fmt.Fprintf(w, "*** device: %p ***\n", d)
	fmt.Fprintf(w, "action:    '%s'\n", d.Action())
	fmt.Fprintf(w, "syspath:   '%s'\n", d.Syspath())
	fmt.Fprintf(w, "devpath:   '%s'\n", d.Devpath())
	fmt.Fprintf(w, "subsystem: '%s'\n", d.Subsystem())
	fmt.Fprintf(w, "driver:    '%s'\n", d.Driver())
	fmt.Fprintf(w, "devname:   '%s'\n", d.Devnode())
	devnum, _ := d.Devnum()
	fmt.Fprintf(w, "devnum:    %s\n", devnum)

	links := d.Links()
	for _, link := range links {
		fmt.Fprintf(w, "link:      '%s'\n", link)
	}
	fmt.Fprintf(w, "found %d links\n", len(links))

	props := d.Properties()
	for _, e := range props {
		fmt.Fprintf(w, "property:  '%s=%s'\n", e.Name, e.Value)
	}
	fmt.Fprintf(w, "found %d properties\n", len(props))

	dev, _ := d.Attribute("dev")
	fmt.Fprintf(w, "attr{dev}: '%s'\n", dev)
	fmt.Fprintln(w)
}

type deviceDoc struct {
	Action     string        `yaml:"action"`
	Syspath    string        `yaml:"syspath"`
	Devpath    string        `yaml:"devpath"`
	Subsystem  string        `yaml:"subsystem,omitempty"`
	Driver     string        `yaml:"driver,omitempty"`
	Devname    string        `yaml:"devname,omitempty"`
	Devnum     string        `yaml:"devnum,omitempty"`
	Seqnum     uint64        `yaml:"seqnum,omitempty"`
	Links      []string      `yaml:"links,omitempty"`
	Properties yaml.MapSlice `yaml:"properties,omitempty"`
	Dev        string        `yaml:"attr_dev,omitempty"`
}

type yamlPrinter struct {
	out io.Writer
}

func newDeviceDoc(d *device.Device) deviceDoc {
	doc := deviceDoc{
		Action:    d.Action().String(),
		Syspath:   d.Syspath(),
		Devpath:   d.Devpath(),
		Subsystem: d.Subsystem(),
		Driver:    d.Driver(),
		Devname:   d.Devnode(),
		Seqnum:    d.Seqnum(),
		Links:     d.Links(),
	}
	if devnum, ok := d.Devnum(); ok {
		doc.Devnum = devnum.String()
	}
	for _, e := range d.Properties() {
		doc.Properties = append(doc.Properties, yaml.MapItem{Key: e.Name, Value: e.Value})
	}
	doc.Dev, _ = d.Attribute("dev")
	return doc
}

func (p yamlPrinter) print(d *device.Device) {
	b, err := yaml.Marshal(newDeviceDoc(d))
	if err != nil {
		fmt.Fprintf(p.out, "# %s: %v\n", d.Syspath(), err)
		return
	}
	fmt.Fprintf(p.out, "---\n%s", b)
}
