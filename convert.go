package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"moria.us/dos2flat/flat"
	"moria.us/dos2flat/module"
)

// A converter turns DOS extender executables into flat memory images.
type converter struct {
	fs      afero.Fs
	logger  log.Logger
	regions flat.Regions
	strict  bool // fail if any relocation cannot be applied
}

// load reads and parses an executable.
func (c *converter) load(name string) (*module.Program, error) {
	level.Debug(c.logger).Log("msg", "opening executable", "file", name)
	data, err := afero.ReadFile(c.fs, name)
	if err != nil {
		return nil, errors.Wrap(err, "read input")
	}
	level.Debug(c.logger).Log("msg", "read executable", "file", name, "size", humanize.Bytes(uint64(len(data))))
	prog, err := module.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	level.Debug(c.logger).Log("msg", "parsed module", "stub_size", len(prog.Stub), "objects", len(prog.Objects), "pages", prog.ModuleNumPages)
	return prog, nil
}

// build loads an executable and lays it out in memory.
func (c *converter) build(name string) (*flat.Image, error) {
	prog, err := c.load(name)
	if err != nil {
		return nil, err
	}
	img, err := flat.Build(leContainer{prog}, c.regions)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	for i, p := range img.Objects {
		level.Debug(c.logger).Log("msg", "placed object", "object", i+1, "region", p.Region,
			"base", fmt.Sprintf("0x%08X", p.Base), "size", fmt.Sprintf("0x%X", p.Size))
	}
	for _, w := range img.Warnings {
		level.Warn(c.logger).Log("msg", "bad relocation", "err", w)
	}
	if c.strict {
		if err := img.Warnings.Err(); err != nil {
			return nil, errors.Wrap(err, name)
		}
	}
	return img, nil
}

// convert writes the flat memory image of an executable to output, and
// reports the entry point and stack pointer to w.
func (c *converter) convert(name, output string, w io.Writer) error {
	img, err := c.build(name)
	if err != nil {
		return err
	}
	f, err := c.fs.Create(output)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	defer f.Close()
	if err := img.WriteFile(f); err != nil {
		return errors.Wrapf(err, "write %s", output)
	}
	if err := f.Close(); err != nil { // Double-close is OK
		return errors.Wrapf(err, "write %s", output)
	}
	level.Info(c.logger).Log("msg", "flat memory map written", "file", output,
		"size", humanize.Bytes(uint64(img.End)), "warnings", len(img.Warnings))
	fmt.Fprintf(w, "Entry point:   0x%08X\n", img.Entry)
	fmt.Fprintf(w, "Stack pointer: 0x%08X\n", img.Stack)
	return nil
}

// printMap writes a table of object placements to w.
func (c *converter) printMap(name string, w io.Writer) error {
	img, err := c.build(name)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Object", "Region", "Base", "End", "Size", "Data"})
	for i, p := range img.Objects {
		table.Append([]string{
			strconv.Itoa(i + 1),
			p.Region.String(),
			fmt.Sprintf("0x%08X", p.Base),
			fmt.Sprintf("0x%08X", p.Base+p.Size),
			humanize.IBytes(uint64(p.Size)),
			humanize.IBytes(uint64(len(img.Segments[i]))),
		})
	}
	table.Render()
	fmt.Fprintf(w, "End address:   0x%08X\n", img.End)
	fmt.Fprintf(w, "Entry point:   0x%08X\n", img.Entry)
	fmt.Fprintf(w, "Stack pointer: 0x%08X\n", img.Stack)
	return nil
}

// dump writes the structure of an executable to w.
func (c *converter) dump(name string, w io.Writer) error {
	prog, err := c.load(name)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	prog.DumpText(bw, "")
	return bw.Flush()
}
