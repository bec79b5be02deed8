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

package wave

import (
	"fmt"
	"log"
	"strings"
)

// Console is the leveled logging port handed to the
// decoders. A nil Console discards everything, so decoders
// log unconditionally.
type Console struct {
	logger  *log.Logger
	label   string
	verbose bool
}

// NewConsole wraps l with a label prefix. verbose enables
// the Log level.
func NewConsole(l *log.Logger, label string, verbose bool) *Console {
	return &Console{logger: l, label: label, verbose: verbose}
}

func (c *Console) emit(level string, args []interface{}) {
	if c == nil || c.logger == nil {
		return
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	c.logger.Printf("%s %s: %s", level, c.label, strings.Join(parts, " "))
}

// Info logs at the informational level.
func (c *Console) Info(args ...interface{}) { c.emit("INFO", args) }

// Warning logs at the warning level.
func (c *Console) Warning(args ...interface{}) { c.emit("WARN", args) }

// Error logs at the error level.
func (c *Console) Error(args ...interface{}) { c.emit("ERROR", args) }

// Log logs at the verbose level; dropped unless the console
// was built verbose.
func (c *Console) Log(args ...interface{}) {
	if c == nil || !c.verbose {
		return
	}
	c.emit("DEBUG", args)
}

// Progress is the cancellation and progress port. Decoders
// poll Canceled at refill and block boundaries and stop
// early when it returns true.
type Progress interface {
	Canceled() bool
	// Update reports the number of input bytes consumed.
	Update(consumed int64)
}

// NoProgress is a Progress that never cancels.
type NoProgress struct{}

func (NoProgress) Canceled() bool { return false }
func (NoProgress) Update(int64)   {}
