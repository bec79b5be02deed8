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

	"sigs.k8s.io/yaml"
)

// Properties is the configuration surface shared by the
// decoders. Time-valued fields (Start, End, Delay) are
// strings parsed against the record's domain base once that
// base is known.
type Properties struct {
	// Hierarchy, when non-empty, is a split regex applied to
	// signal names after parsing to build deeper scopes.
	Hierarchy string `json:"hierarchy,omitempty"`
	// Vector groups consecutive single-bit declarations that
	// share a base name.
	Vector bool `json:"vector,omitempty"`
	// Empty keeps scopes with no signals beneath them.
	Empty bool `json:"empty,omitempty"`

	Include string `json:"include,omitempty"`
	Exclude string `json:"exclude,omitempty"`

	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	Delay string `json:"delay,omitempty"`
	// Dilate stretches timestamps after Delay; 0 means 1.
	Dilate float64 `json:"dilate,omitempty"`

	// Verbose enables per-token console logging.
	Verbose bool `json:"verbose,omitempty"`
}

// ParseProperties unmarshals a YAML (or JSON) property set.
func ParseProperties(buf []byte) (*Properties, error) {
	p := &Properties{}
	if len(buf) == 0 {
		return p, nil
	}
	if err := yaml.Unmarshal(buf, p); err != nil {
		return nil, fmt.Errorf("parsing properties: %w", err)
	}
	return p, nil
}

// EffectiveDilate returns the dilate factor with the zero
// value normalized to 1.
func (p *Properties) EffectiveDilate() float64 {
	if p == nil || p.Dilate == 0 {
		return 1
	}
	return p.Dilate
}
