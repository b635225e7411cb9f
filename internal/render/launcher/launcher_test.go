// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package launcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

func testParams() model.Params {
	return model.Params{
		InputPath:  "/work/j1/input.stl",
		InputName:  "bracket.stl",
		Quality:    model.QualityUltra,
		Format:     model.FormatMP4,
		Resolution: 1080,
		Axis:       model.AxisZ,
		OffsetDeg:  45,
		Kelvin:     5600,
		Exposure:   0.5,
	}
}

func TestRenderArgs(t *testing.T) {
	l := New(Config{Script: "/opt/turntable.py", Seconds: 10, RenderFPS: 11})

	want := []string{
		"-b", "-P", "/opt/turntable.py", "--",
		"--input", "/work/j1/input.stl",
		"--out", "/work/j1/frames",
		"--seconds", "10",
		"--fps", "11",
		"--frames", "110",
		"--size", "1080",
		"--axis", "Z",
		"--format", "mp4",
		"--offset", "45",
		"--quality", "ultra",
		"--kelvin", "5600",
		"--exposure", "0.5",
	}
	if diff := cmp.Diff(want, l.RenderArgs(testParams(), "/work/j1/frames")); diff != "" {
		t.Errorf("RenderArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderArgs_Flags(t *testing.T) {
	l := New(Config{Script: "s.py", Seconds: 2, RenderFPS: 12, RendererExtraArgs: []string{"--factory-startup"}})
	p := testParams()
	p.AutoOrient = true
	p.Watermark = true
	p.AutoBrightness = true
	p.GPU = true
	p.Quality = model.QualityFast

	want := []string{
		"-b", "--factory-startup", "-P", "s.py", "--",
		"--input", "/work/j1/input.stl",
		"--out", "f",
		"--seconds", "2",
		"--fps", "12",
		"--frames", "24",
		"--size", "1080",
		"--axis", "Z",
		"--format", "mp4",
		"--offset", "45",
		"--auto",
		"--quality", "fast",
		"--watermark",
		"--kelvin", "5600",
		"--auto_brightness",
		"--gpu",
	}
	if diff := cmp.Diff(want, l.RenderArgs(p, "f")); diff != "" {
		t.Errorf("RenderArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeArgs(t *testing.T) {
	t.Run("mp4 with interpolation", func(t *testing.T) {
		l := New(Config{Seconds: 10, RenderFPS: 11, OutputFPS: 25})
		want := []string{
			"-hide_banner", "-nostats", "-y",
			"-progress", "pipe:1",
			"-framerate", "11",
			"-i", filepath.Join("frames", FramePattern),
			"-vf", "minterpolate=fps=25:mi_mode=mci:mc_mode=aobmc:me_mode=bidir:vsbmc=1",
			"-an",
			"-c:v", "libx264", "-preset", "medium", "-crf", "18", "-pix_fmt", "yuv420p",
			"-movflags", "+faststart",
			"out.mp4",
		}
		if diff := cmp.Diff(want, l.EncodeArgs(testParams(), "frames", "out.mp4")); diff != "" {
			t.Errorf("EncodeArgs mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, 250, l.EncodedFrames())
	})

	t.Run("webm at render rate", func(t *testing.T) {
		l := New(Config{Seconds: 10, RenderFPS: 11, OutputFPS: 11})
		p := testParams()
		p.Format = model.FormatWebM
		want := []string{
			"-hide_banner", "-nostats", "-y",
			"-progress", "pipe:1",
			"-framerate", "11",
			"-i", filepath.Join("frames", FramePattern),
			"-an",
			"-c:v", "libvpx-vp9", "-pix_fmt", "yuva420p", "-b:v", "0", "-crf", "12",
			"out.webm",
		}
		if diff := cmp.Diff(want, l.EncodeArgs(p, "frames", "out.webm")); diff != "" {
			t.Errorf("EncodeArgs mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, 110, l.EncodedFrames())
	})
}

func TestEnsureWorkDir(t *testing.T) {
	root := t.TempDir()
	layout, err := EnsureWorkDir(root, "job-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "job-1"), layout.Dir)
	assert.DirExists(t, layout.Frames)
	assert.Equal(t, filepath.Join(root, "job-1", "output.webm"), layout.Output(model.FormatWebM))
	assert.Equal(t, filepath.Join(root, "job-1", "input.stl"), layout.Input("Bracket.STL"))

	_, err = EnsureWorkDir(root, "../escape")
	var le *model.LaunchError
	require.True(t, errors.As(err, &le))
}

func TestStart_MissingBinary(t *testing.T) {
	l := New(Config{})
	_, err := l.Start(context.Background(), model.StageRendering, "definitely-not-a-renderer-binary", nil, t.TempDir())
	var le *model.LaunchError
	require.True(t, errors.As(err, &le), "got %v", err)
	assert.Equal(t, model.StageRendering, le.Stage)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func collect(p *Process) []string {
	var out []string
	for line := range p.Lines() {
		out = append(out, line)
	}
	return out
}

func TestStart_StreamsLinesAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	bin := writeScript(t, `
echo "Fra:1 Mem:10M"
printf 'frame 2 of 3\rframe 3 of 3\n'
echo "oops" >&2
printf 'no newline'
exit 3
`)
	l := New(Config{})
	p, err := l.Start(context.Background(), model.StageRendering, bin, nil, t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, p.Pid())

	lines := collect(p)
	code, waitErr := p.Wait()
	assert.Equal(t, 3, code)
	assert.Error(t, waitErr)

	assert.Equal(t, []string{"Fra:1 Mem:10M", "frame 2 of 3", "frame 3 of 3", "oops", "no newline"}, lines)
	assert.Equal(t, "no newline", p.LastLine())
	assert.Equal(t, []string{"oops", "no newline"}, p.Tail(2))
}

func TestStart_CleanExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	bin := writeScript(t, "exit 0\n")
	p, err := New(Config{}).Start(context.Background(), model.StageEncoding, bin, nil, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, collect(p))
	code, err := p.Wait()
	assert.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Empty(t, p.LastLine())
}

func TestProcess_Terminate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are POSIX only")
	}
	bin := writeScript(t, "echo started\nsleep 30 &\nwait\n")
	p, err := New(Config{WaitDelay: time.Second}).Start(context.Background(), model.StageRendering, bin, nil, t.TempDir())
	require.NoError(t, err)

	got := make(chan []string, 1)
	go func() { got <- collect(p) }()

	start := time.Now()
	require.NoError(t, p.Terminate(200*time.Millisecond, 5*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-p.Done():
	default:
		t.Fatal("Done not closed after Terminate")
	}
	code, _ := p.Wait()
	assert.NotEqual(t, 0, code)
	<-got

	// Terminating an exited process is a no-op.
	require.NoError(t, p.Terminate(10*time.Millisecond, 10*time.Millisecond))
}

func TestStart_ContextCancelKillsGroup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are POSIX only")
	}
	bin := writeScript(t, "sleep 30\n")
	ctx, cancel := context.WithCancel(context.Background())
	p, err := New(Config{WaitDelay: time.Second}).Start(ctx, model.StageRendering, bin, nil, t.TempDir())
	require.NoError(t, err)
	go collect(p)

	cancel()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process survived context cancellation")
	}
}

func TestLineRing(t *testing.T) {
	r := newLineRing(3)
	assert.Empty(t, r.lastN(5))
	for _, s := range []string{"a", "b", "c", "d"} {
		r.add(s)
	}
	assert.Equal(t, []string{"b", "c", "d"}, r.lastN(5))
	assert.Equal(t, []string{"d"}, r.lastN(1))
}
