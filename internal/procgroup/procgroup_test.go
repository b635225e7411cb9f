// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startGroup spawns cmd as a group leader and closes done once Wait returns.
func startGroup(t *testing.T, script string) (*exec.Cmd, chan struct{}) {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	t.Cleanup(func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	})
	// Let the shell spawn its children.
	time.Sleep(100 * time.Millisecond)
	return cmd, done
}

func TestSetMakesGroupLeader(t *testing.T) {
	cmd, _ := startGroup(t, "sleep 10 & sleep 10")

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pgid, "process should be group leader")
}

func TestTerminateGraceful(t *testing.T) {
	cmd, done := startGroup(t, "sleep 10 & sleep 10")
	pgid := cmd.Process.Pid

	start := time.Now()
	err := Terminate(cmd, done, 2*time.Second, time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "SIGTERM should be enough for sleep")

	time.Sleep(50 * time.Millisecond)
	assert.ErrorIs(t, syscall.Kill(-pgid, syscall.Signal(0)), syscall.ESRCH, "process group should be gone")
}

func TestTerminateEscalatesToSIGKILL(t *testing.T) {
	cmd, done := startGroup(t, "trap '' TERM; sleep 10 & while true; do sleep 0.1; done")
	pgid := cmd.Process.Pid

	start := time.Now()
	err := Terminate(cmd, done, 200*time.Millisecond, 2*time.Second)
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	time.Sleep(50 * time.Millisecond)
	assert.ErrorIs(t, syscall.Kill(-pgid, syscall.Signal(0)), syscall.ESRCH)
}

func TestTerminateAlreadyExited(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Start())
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	<-done

	require.NoError(t, Terminate(cmd, done, 10*time.Millisecond, 10*time.Millisecond))
}

func TestTerminateNil(t *testing.T) {
	require.NoError(t, Terminate(nil, nil, time.Millisecond, time.Millisecond))
	require.NoError(t, Kill(nil, syscall.SIGTERM))
}

func TestDescendantsFindsChildren(t *testing.T) {
	cmd, _ := startGroup(t, "sleep 10 & sleep 10")

	kids := Descendants(cmd.Process.Pid)
	assert.NotEmpty(t, kids)
	assert.Empty(t, Descendants(999999))
}
