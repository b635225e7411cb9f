// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Quality selects the renderer preset.
type Quality string

const (
	QualityFast     Quality = "fast"
	QualityStandard Quality = "standard"
	QualityUltra    Quality = "ultra"
)

// Format selects the output container and codec.
type Format string

const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
)

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// MIMEType returns the content type served for the artifact.
func (f Format) MIMEType() string {
	if f == FormatWebM {
		return "video/webm"
	}
	return "video/mp4"
}

// Axis is the turntable rotation axis.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
)

// Resolutions are the supported square render sizes in pixels.
var Resolutions = []int{720, 1080, 1440, 2160}

const (
	MinKelvin   = 2000
	MaxKelvin   = 10000
	MinExposure = -2.0
	MaxExposure = 2.0
	MaxOffset   = 360.0
)

// Params is the validated parameter set of one render.
type Params struct {
	InputPath      string  `json:"-"`
	InputName      string  `json:"inputName"`
	Quality        Quality `json:"quality"`
	Format         Format  `json:"format"`
	Resolution     int     `json:"resolution"`
	Axis           Axis    `json:"axis"`
	OffsetDeg      float64 `json:"offset"`
	AutoOrient     bool    `json:"autoOrient"`
	Kelvin         int     `json:"kelvin"`
	Exposure       float64 `json:"exposure"`
	AutoBrightness bool    `json:"autoBrightness"`
	Watermark      bool    `json:"watermark"`
	GPU            bool    `json:"gpu"`
}

// Defaults fill in parameters the caller left empty or got wrong.
type Defaults struct {
	Quality    Quality
	Format     Format
	Resolution int
	Axis       Axis
	Kelvin     int
}

// DefaultDefaults mirrors the stock service configuration.
func DefaultDefaults() Defaults {
	return Defaults{
		Quality:    QualityUltra,
		Format:     FormatMP4,
		Resolution: 1080,
		Axis:       AxisZ,
		Kelvin:     5600,
	}
}

// Normalize returns p with unknown enum values replaced by defaults and
// numeric values clamped to their supported ranges. Out-of-range input is
// corrected rather than rejected, the way the upload form always behaved.
func (p Params) Normalize(d Defaults) Params {
	switch Quality(strings.ToLower(string(p.Quality))) {
	case QualityFast, QualityStandard, QualityUltra:
		p.Quality = Quality(strings.ToLower(string(p.Quality)))
	default:
		p.Quality = d.Quality
	}

	switch Format(strings.ToLower(string(p.Format))) {
	case FormatMP4, FormatWebM:
		p.Format = Format(strings.ToLower(string(p.Format)))
	default:
		p.Format = d.Format
	}

	switch Axis(strings.ToUpper(string(p.Axis))) {
	case AxisX, AxisY, AxisZ:
		p.Axis = Axis(strings.ToUpper(string(p.Axis)))
	default:
		p.Axis = d.Axis
	}

	if !validResolution(p.Resolution) {
		p.Resolution = d.Resolution
	}

	p.OffsetDeg = clamp(p.OffsetDeg, 0, MaxOffset)

	if p.Kelvin == 0 {
		p.Kelvin = d.Kelvin
	}
	if p.Kelvin < MinKelvin {
		p.Kelvin = MinKelvin
	}
	if p.Kelvin > MaxKelvin {
		p.Kelvin = MaxKelvin
	}

	if p.AutoBrightness {
		p.Exposure = 0
	} else {
		p.Exposure = clamp(p.Exposure, MinExposure, MaxExposure)
	}
	return p
}

// Validate checks what Normalize cannot fix.
func (p Params) Validate() error {
	if p.InputPath == "" {
		return fmt.Errorf("%w: input path is required", ErrInvalidParams)
	}
	if !strings.EqualFold(filepath.Ext(p.InputPath), ".stl") {
		return fmt.Errorf("%w: only .stl models are supported", ErrInvalidParams)
	}
	return nil
}

// LaunchMessage is the first status line shown after admission.
func (p Params) LaunchMessage() string {
	label := string(p.Quality)
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	if p.AutoOrient {
		return fmt.Sprintf("Launching renderer (%s, auto orientation)…", label)
	}
	return fmt.Sprintf("Launching renderer (%s, axis %s, start %.1f°)…", label, p.Axis, p.OffsetDeg)
}

func validResolution(r int) bool {
	for _, v := range Resolutions {
		if v == r {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
