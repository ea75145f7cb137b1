// Package hostmetrics samples local hardware counters for hosts that run
// without an APM machine agent.
package hostmetrics

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/perfscope/monitor/types"
)

// Sampler produces one ServerMetric per tick from local counters. Disk and
// network rates are deltas against the previous sample.
type Sampler struct {
	tier     string
	hostname string

	lastTime time.Time
	lastNet  net.IOCountersStat
	lastDisk disk.IOCountersStat
	primed   bool
}

// NewSampler creates a host sampler tagged with the given tier.
func NewSampler(tier string) *Sampler {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Sampler{tier: tier, hostname: hostname}
}

// Sample reads current counters and returns one metric row. The first call
// primes the delta baselines and reports zero rates.
func (s *Sampler) Sample(runID string, now time.Time) types.ServerMetric {
	metric := types.ServerMetric{
		RunID:  runID,
		Time:   now,
		Host:   s.hostname,
		Tier:   s.tier,
		Source: types.SourceHost,
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metric.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		metric.MemoryPercent = vm.UsedPercent
		metric.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
	}

	elapsed := now.Sub(s.lastTime).Seconds()

	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		current := counters[0]
		if s.primed && elapsed > 0 {
			metric.NetworkInKBps = float64(current.BytesRecv-s.lastNet.BytesRecv) / 1024 / elapsed
			metric.NetworkOutKBps = float64(current.BytesSent-s.lastNet.BytesSent) / 1024 / elapsed
		}
		s.lastNet = current
	}

	if counters, err := disk.IOCounters(); err == nil {
		var current disk.IOCountersStat
		for _, stat := range counters {
			current.ReadBytes += stat.ReadBytes
			current.WriteBytes += stat.WriteBytes
		}
		if s.primed && elapsed > 0 {
			metric.DiskReadKBps = float64(current.ReadBytes-s.lastDisk.ReadBytes) / 1024 / elapsed
			metric.DiskWriteKBps = float64(current.WriteBytes-s.lastDisk.WriteBytes) / 1024 / elapsed
		}
		s.lastDisk = current
	}

	s.lastTime = now
	s.primed = true
	return metric
}
