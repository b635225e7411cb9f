// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/motivorastudios-blip/Motivora-studio/internal/metrics"
)

// Descendants returns handles for every live descendant of pid, found by
// walking the parent links of the process table. Errors are swallowed: a
// process that vanished during the walk has nothing left to reap.
func Descendants(pid int) []*process.Process {
	all, err := process.Processes()
	if err != nil {
		return nil
	}
	children := make(map[int32][]*process.Process, len(all))
	for _, p := range all {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], p)
	}

	var out []*process.Process
	seen := map[int32]bool{int32(pid): true}
	queue := []int32{int32(pid)}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, c)
			queue = append(queue, c.Pid)
		}
	}
	return out
}

// reap kills descendants that are still running. IsRunning compares the
// recorded create time, so a recycled pid is left alone.
func reap(procs []*process.Process) {
	for _, p := range procs {
		running, err := p.IsRunning()
		if err != nil || !running {
			continue
		}
		if err := p.Kill(); err == nil {
			metrics.IncProcTerminate("SIGKILL", "descendant")
		}
	}
}
