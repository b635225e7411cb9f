// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package progress

import (
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// DefaultRenderWeight is the share of overall progress given to rendering.
const DefaultRenderWeight = 70.0

// Weights maps per-stage fractions onto the overall 0..100 scale. Rendering
// covers [0, Render], encoding covers [Render, 100].
type Weights struct {
	Render float64
}

// Overall converts done/total within stage to an overall percentage. Unknown
// totals give the band start.
func (w Weights) Overall(stage model.Stage, done, total int) float64 {
	render := w.Render
	if render <= 0 || render >= 100 {
		render = DefaultRenderWeight
	}
	frac := 0.0
	if total > 0 {
		frac = float64(done) / float64(total)
		if frac > 1 {
			frac = 1
		}
		if frac < 0 {
			frac = 0
		}
	}
	switch stage {
	case model.StageRendering:
		return frac * render
	case model.StageEncoding:
		return render + frac*(100-render)
	default:
		return 0
	}
}

// EncodeStart is the overall percentage at which encoding begins.
func (w Weights) EncodeStart() float64 {
	return w.Overall(model.StageEncoding, 0, 1)
}
