// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package progress turns unstructured renderer and encoder output into frame
// counts, overall percentages and ETAs.
package progress

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Frame is a parsed progress observation. Total is zero when the line did not
// carry one.
type Frame struct {
	Done  int
	Total int
}

// Parser recognises progress lines.
type Parser interface {
	Parse(line string) (Frame, bool)
}

// Default patterns. Each needs a named group "done" and may carry "total".
var (
	DefaultRenderPatterns = []string{
		`(?i)\bframe\s+(?P<done>\d+)\s+of\s+(?P<total>\d+)`,
		`^Fra:\s*(?P<done>\d+)`,
	}
	DefaultEncodePatterns = []string{
		`(?i)\bframe\s+(?P<done>\d+)\s+of\s+(?P<total>\d+)`,
		`^frame=\s*(?P<done>\d+)`,
	}
	// DefaultEncodeIgnore drops the key=value chatter of ffmpeg -progress so
	// it does not overwrite the status message.
	DefaultEncodeIgnore = []string{
		`^[a-z_]+=\S*$`,
	}
)

// PatternParser tries each pattern in order; the first match wins.
type PatternParser struct {
	patterns []*regexp.Regexp
	ignore   []*regexp.Regexp
}

// NewPatternParser compiles the given patterns. Every pattern must define a
// "done" group.
func NewPatternParser(patterns, ignore []string) (*PatternParser, error) {
	p := &PatternParser{}
	for _, expr := range patterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile progress pattern %q: %w", expr, err)
		}
		if re.SubexpIndex("done") < 0 {
			return nil, fmt.Errorf("progress pattern %q has no (?P<done>...) group", expr)
		}
		p.patterns = append(p.patterns, re)
	}
	for _, expr := range ignore {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile ignore pattern %q: %w", expr, err)
		}
		p.ignore = append(p.ignore, re)
	}
	return p, nil
}

// MustPatternParser is NewPatternParser for the built-in defaults.
func MustPatternParser(patterns, ignore []string) *PatternParser {
	p, err := NewPatternParser(patterns, ignore)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse implements Parser. Lines whose numbers do not parse are treated as
// unrecognised.
func (p *PatternParser) Parse(line string) (Frame, bool) {
	line = strings.TrimSpace(line)
	for _, re := range p.patterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		done, err := strconv.Atoi(m[re.SubexpIndex("done")])
		if err != nil || done < 0 {
			continue
		}
		f := Frame{Done: done}
		if idx := re.SubexpIndex("total"); idx >= 0 && m[idx] != "" {
			if total, err := strconv.Atoi(m[idx]); err == nil && total > 0 {
				f.Total = total
			}
		}
		return f, true
	}
	return Frame{}, false
}

// Ignored reports whether line is noise that should not become the status
// message.
func (p *PatternParser) Ignored(line string) bool {
	line = strings.TrimSpace(line)
	for _, re := range p.ignore {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

var autoRe = regexp.MustCompile(`^\[AUTO\]`)

// AutoOrientation is the renderer's report of the axis and start offset it
// picked when asked to orient the model itself.
type AutoOrientation struct {
	Axis      string
	Offset    float64
	HasAxis   bool
	HasOffset bool
}

// ParseAuto parses "[AUTO] axis=Y offset=90.0" lines.
func ParseAuto(line string) (AutoOrientation, bool) {
	line = strings.TrimSpace(line)
	if !autoRe.MatchString(line) {
		return AutoOrientation{}, false
	}
	var out AutoOrientation
	for _, field := range strings.Fields(strings.Trim(line, "[]")) {
		k, v, ok := strings.Cut(strings.Trim(field, "[]"), "=")
		if !ok {
			continue
		}
		switch k {
		case "axis":
			out.Axis = strings.ToUpper(v)
			out.HasAxis = true
		case "offset":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				out.Offset = f
				out.HasOffset = true
			}
		}
	}
	return out, true
}
