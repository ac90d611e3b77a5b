package ui

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceStats holds machine and app server resource usage.
type ResourceStats struct {
	CPUPercent  float64
	MemoryUsed  uint64
	MemoryTotal uint64
	MemPercent  float64
	CPUTemp     float64 // Celsius, -1 if unavailable

	// App server process, zero when not running.
	AppPID        int32
	AppCPUPercent float64
	AppRSS        uint64
}

// GetResourceStats samples system usage and, when appPID is non-zero, the
// app server process.
func GetResourceStats(appPID int32) ResourceStats {
	stats := ResourceStats{CPUTemp: -1}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryUsed = vm.Used
		stats.MemoryTotal = vm.Total
		stats.MemPercent = vm.UsedPercent
	}
	stats.CPUTemp = cpuTemperature()

	if appPID > 0 {
		if p, err := process.NewProcess(appPID); err == nil {
			stats.AppPID = appPID
			if pct, err := p.CPUPercent(); err == nil {
				stats.AppCPUPercent = pct
			}
			if mi, err := p.MemoryInfo(); err == nil {
				stats.AppRSS = mi.RSS
			}
		}
	}
	return stats
}

func cpuTemperature() float64 {
	temps, err := host.SensorsTemperatures()
	if err != nil {
		return -1
	}
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if (strings.Contains(key, "cpu") || strings.Contains(key, "coretemp") || strings.Contains(key, "k10temp")) && t.Temperature > 0 {
			return t.Temperature
		}
	}
	for _, t := range temps {
		if t.Temperature > 0 && t.Temperature < 120 {
			return t.Temperature
		}
	}
	return -1
}

// FormatBytes formats bytes into a human-readable string.
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
