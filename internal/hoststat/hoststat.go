// Package hoststat reports host facts (uptime, load, memory) for the
// status CLI command and the admin websocket feed. Grounded on the
// teacher's internal/collectors.MetricsCollector, trimmed to the facts
// a status surface needs rather than a full monitoring payload.
package hoststat

import (
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Facts is a snapshot of host-level resource usage.
type Facts struct {
	Uptime         time.Duration
	Load1          float64
	Load5          float64
	Load15         float64
	MemUsedPercent float64
	MemUsedMB      uint64
	MemTotalMB     uint64
}

// Collect gathers a fresh Facts snapshot. Uptime and load-average
// failures (e.g. load averages are unsupported on Windows) leave those
// fields zero; a failure to read memory statistics returns an error.
func Collect() (Facts, error) {
	var f Facts

	if uptimeSecs, err := host.Uptime(); err == nil {
		f.Uptime = time.Duration(uptimeSecs) * time.Second
	}

	if avg, err := load.Avg(); err == nil {
		f.Load1 = avg.Load1
		f.Load5 = avg.Load5
		f.Load15 = avg.Load15
	}

	vmem, err := mem.VirtualMemory()
	if err != nil {
		return f, err
	}
	f.MemUsedPercent = vmem.UsedPercent
	f.MemUsedMB = vmem.Used / 1024 / 1024
	f.MemTotalMB = vmem.Total / 1024 / 1024

	return f, nil
}
