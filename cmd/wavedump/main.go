// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command wavedump decodes a waveform file (VCD text dump
// or FST binary trace) and prints the resulting record.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/wavedump/wavedump/fst"
	"github.com/wavedump/wavedump/vcd"
	"github.com/wavedump/wavedump/wave"
)

// decoder is the streaming record reader contract both
// format decoders satisfy.
type decoder interface {
	Decode(progress wave.Progress) (*wave.Record, error)
}

// readers is the format registry, populated at program
// start; -format and the file extension both key into it.
var readers = map[string]func(io.Reader, *wave.Properties, *wave.Console) decoder{
	"vcd": func(r io.Reader, p *wave.Properties, c *wave.Console) decoder {
		return vcd.NewDecoder(r, p, c)
	},
	"fst": func(r io.Reader, p *wave.Properties, c *wave.Console) decoder {
		return fst.NewDecoder(r, p, c)
	},
}

var (
	format    = flag.String("format", "", "input format (default: by file extension)")
	propsFile = flag.String("props", "", "YAML property file")
	include   = flag.String("include", "", "include filter patterns")
	exclude   = flag.String("exclude", "", "exclude filter patterns")
	start     = flag.String("start", "", "start time in domain units")
	end       = flag.String("end", "", "end time in domain units")
	delay     = flag.String("delay", "", "timestamp delay in domain units")
	dilate    = flag.Float64("dilate", 0, "timestamp dilation factor")
	hierarchy = flag.String("hierarchy", "", "name split pattern for extra scope levels")
	vector    = flag.Bool("vector", false, "group single-bit declarations into vectors")
	empty     = flag.Bool("empty", false, "keep empty scopes")
	verbose   = flag.Bool("v", false, "verbose logging")
)

func main() {
	log.SetFlags(0)
	flag.Parse()
	if flag.NArg() != 1 {
		names := maps.Keys(readers)
		slices.Sort(names)
		fmt.Fprintf(os.Stderr, "usage: wavedump [options] <file.{%s}>\n", strings.Join(names, ","))
		flag.PrintDefaults()
		os.Exit(1)
	}
	path := flag.Arg(0)

	props, err := loadProps()
	if err != nil {
		log.Fatalf("wavedump: %v", err)
	}
	name := *format
	if name == "" {
		name = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	open := readers[name]
	if open == nil {
		log.Fatalf("wavedump: unknown format %q", name)
	}

	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("wavedump: %v", err)
	}
	defer f.Close()

	console := wave.NewConsole(log.Default(), name, props.Verbose)
	rec, err := open(f, props, console).Decode(nil)
	if err != nil {
		log.Fatalf("wavedump: %v", err)
	}
	printRecord(rec)
}

func loadProps() (*wave.Properties, error) {
	props := &wave.Properties{}
	if *propsFile != "" {
		buf, err := os.ReadFile(*propsFile)
		if err != nil {
			return nil, err
		}
		props, err = wave.ParseProperties(buf)
		if err != nil {
			return nil, err
		}
	}
	if *include != "" {
		props.Include = *include
	}
	if *exclude != "" {
		props.Exclude = *exclude
	}
	if *start != "" {
		props.Start = *start
	}
	if *end != "" {
		props.End = *end
	}
	if *delay != "" {
		props.Delay = *delay
	}
	if *dilate != 0 {
		props.Dilate = *dilate
	}
	if *hierarchy != "" {
		props.Hierarchy = *hierarchy
	}
	props.Vector = props.Vector || *vector
	props.Empty = props.Empty || *empty
	props.Verbose = props.Verbose || *verbose
	return props, nil
}

func printRecord(rec *wave.Record) {
	fmt.Printf("record %s: base %s, range [%d, %d], %d signals\n",
		rec.Name, rec.Base, rec.Start, rec.End, len(rec.Signals))
	rec.Walk(func(id wave.ScopeID, depth int) {
		indent := strings.Repeat("  ", depth)
		if id != wave.RootScope {
			fmt.Printf("%s%s/\n", indent, rec.H.Name(id))
			indent += "  "
		}
		for _, s := range rec.ScopeSignals(id) {
			samples := 0
			if s.Writer != nil {
				samples = s.Writer.Samples()
			}
			width := ""
			if s.Kind == wave.KindLogic && s.Scale > 0 {
				width = fmt.Sprintf("[%d]", s.Scale)
			}
			fmt.Printf("%s%s%s %s: %d samples\n", indent, s.Name, width, s.Kind, samples)
		}
	})
}
