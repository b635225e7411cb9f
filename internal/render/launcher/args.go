// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package launcher

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// FramePattern is the file name pattern the turntable script writes frames
// with, in ffmpeg image2 syntax.
const FramePattern = "frame_%04d.png"

// RenderArgs builds the renderer argument list for p. Frames are written to
// framesDir; everything after "--" is read by the turntable script.
func (l *Launcher) RenderArgs(p model.Params, framesDir string) []string {
	args := []string{"-b"}
	args = append(args, l.cfg.RendererExtraArgs...)
	args = append(args,
		"-P", l.cfg.Script,
		"--",
		"--input", p.InputPath,
		"--out", framesDir,
		"--seconds", formatFloat(l.cfg.Seconds),
		"--fps", strconv.Itoa(l.cfg.RenderFPS),
		"--frames", strconv.Itoa(l.FrameCount()),
		"--size", strconv.Itoa(p.Resolution),
		"--axis", string(p.Axis),
		"--format", string(p.Format),
		"--offset", formatFloat(p.OffsetDeg),
	)
	if p.AutoOrient {
		args = append(args, "--auto")
	}
	args = append(args, "--quality", string(p.Quality))
	if p.Watermark {
		args = append(args, "--watermark")
	}
	args = append(args, "--kelvin", strconv.Itoa(p.Kelvin))
	if p.AutoBrightness {
		args = append(args, "--auto_brightness")
	} else {
		args = append(args, "--exposure", formatFloat(p.Exposure))
	}
	if p.GPU {
		args = append(args, "--gpu")
	}
	return args
}

// EncodeArgs builds the encoder argument list. The output path is always
// the last argument. When the output frame rate differs from the render
// rate, motion interpolation fills the gap.
func (l *Launcher) EncodeArgs(p model.Params, framesDir, output string) []string {
	args := []string{
		"-hide_banner",
		"-nostats",
		"-y",
		"-progress", "pipe:1",
		"-framerate", strconv.Itoa(l.cfg.RenderFPS),
		"-i", filepath.Join(framesDir, FramePattern),
	}
	if out := l.cfg.OutputFPS; out > 0 && out != l.cfg.RenderFPS {
		args = append(args, "-vf",
			fmt.Sprintf("minterpolate=fps=%d:mi_mode=mci:mc_mode=aobmc:me_mode=bidir:vsbmc=1", out))
	}
	args = append(args, "-an")

	switch p.Format {
	case model.FormatWebM:
		args = append(args,
			"-c:v", "libvpx-vp9",
			"-pix_fmt", "yuva420p",
			"-b:v", "0",
			"-crf", "12",
		)
	default:
		args = append(args,
			"-c:v", "libx264",
			"-preset", "medium",
			"-crf", "18",
			"-pix_fmt", "yuv420p",
			"-movflags", "+faststart",
		)
	}
	return append(args, output)
}

// FrameCount is the number of frames the renderer produces, which is also
// what the encoder will report once done.
func (l *Launcher) FrameCount() int {
	n := int(l.cfg.Seconds*float64(l.cfg.RenderFPS) + 0.5)
	if n < 1 {
		return 1
	}
	return n
}

// EncodedFrames is the number of frames the encoder writes.
func (l *Launcher) EncodedFrames() int {
	if out := l.cfg.OutputFPS; out > 0 && out != l.cfg.RenderFPS {
		n := int(l.cfg.Seconds*float64(out) + 0.5)
		if n > 0 {
			return n
		}
	}
	return l.FrameCount()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
