// Package sysstats collects the CPU/RAM/disk figures carried by the
// SYSTEM_STATS telemetry event (spec.md §4.7). GPU collection is an
// explicit external collaborator (spec.md §1's out-of-scope list): it is
// represented here only as an interface, with a stub that reports nothing,
// so the pusher can still run on a machine with no GPU collector wired.
package sysstats

import (
	"runtime"
	"runtime/debug"
	"syscall"
)

// Snapshot is one point-in-time reading of system resource usage.
type Snapshot struct {
	CPUCores      int     `json:"cpu_cores"`
	GoroutineCount int    `json:"goroutine_count"`
	MemAllocBytes uint64  `json:"mem_alloc_bytes"`
	MemSysBytes   uint64  `json:"mem_sys_bytes"`
	GCCycles      uint32  `json:"gc_cycles"`
	DiskTotalBytes uint64 `json:"disk_total_bytes"`
	DiskFreeBytes  uint64 `json:"disk_free_bytes"`
	GPU           *GPUStats `json:"gpu,omitempty"`
}

// GPUStats is the shape an external GPU collector would fill in.
type GPUStats struct {
	Name           string  `json:"name"`
	UtilPercent    float64 `json:"util_percent"`
	MemUsedBytes   uint64  `json:"mem_used_bytes"`
	MemTotalBytes  uint64  `json:"mem_total_bytes"`
}

// GPUCollector is the external-collaborator seam for GPU telemetry.
type GPUCollector interface {
	Collect() (*GPUStats, error)
}

// NoGPU is a GPUCollector stub that reports no GPU is available.
type NoGPU struct{}

// Collect always returns (nil, nil): no GPU data available.
func (NoGPU) Collect() (*GPUStats, error) { return nil, nil }

// Collector gathers a Snapshot on demand.
type Collector struct {
	diskPath string
	gpu      GPUCollector
}

// New returns a Collector sampling disk usage at diskPath (typically the
// conversation store's data directory) and delegating GPU stats to gpu.
func New(diskPath string, gpu GPUCollector) *Collector {
	if gpu == nil {
		gpu = NoGPU{}
	}
	return &Collector{diskPath: diskPath, gpu: gpu}
}

// Collect samples the current process/host resource usage.
func (c *Collector) Collect() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snap := Snapshot{
		CPUCores:       runtime.NumCPU(),
		GoroutineCount: runtime.NumGoroutine(),
		MemAllocBytes:  mem.Alloc,
		MemSysBytes:    mem.Sys,
		GCCycles:       mem.NumGC,
	}

	if total, free, err := diskUsage(c.diskPath); err == nil {
		snap.DiskTotalBytes = total
		snap.DiskFreeBytes = free
	}

	if gpuStats, err := c.gpu.Collect(); err == nil && gpuStats != nil {
		snap.GPU = gpuStats
	}

	return snap
}

// diskUsage reports total and free bytes for the filesystem containing path.
func diskUsage(path string) (total, free uint64, err error) {
	if path == "" {
		path = "."
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	return stat.Blocks * uint64(stat.Bsize), stat.Bavail * uint64(stat.Bsize), nil
}

// GCStats exposes the debug.GCStats last-collection timing, useful for the
// verbose get_monitoring command variant.
func GCStats() debug.GCStats {
	var s debug.GCStats
	debug.ReadGCStats(&s)
	return s
}
