package hardware

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/resource"
)

// HostInfo describes the local machine's allocatable capacity.
type HostInfo struct {
	Hostname string
	Capacity resource.Amounts
	CPUModel string
}

// DetectHost probes the local machine with gopsutil. Probe failures degrade
// to zero for the affected dimension rather than failing detection.
func DetectHost(logger *zap.Logger) *HostInfo {
	info := &HostInfo{}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		info.Hostname = "localhost"
	}

	if counts, err := cpu.Counts(true); err == nil {
		info.Capacity.CPU = float64(counts)
	} else {
		logger.Warn("Failed to probe CPU count", zap.Error(err))
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		info.Capacity.MemoryMB = float64(vmem.Total) / (1024 * 1024)
	} else {
		logger.Warn("Failed to probe memory", zap.Error(err))
	}

	if usage, err := disk.Usage("/"); err == nil {
		info.Capacity.DiskMB = float64(usage.Free) / (1024 * 1024)
	} else {
		logger.Warn("Failed to probe disk", zap.Error(err))
	}

	logger.Info("Local host detected",
		zap.String("hostname", info.Hostname),
		zap.Float64("cpu_cores", info.Capacity.CPU),
		zap.Float64("memory_mb", info.Capacity.MemoryMB),
	)
	return info
}

// Metadata builds resource metadata for the local host.
func (h *HostInfo) Metadata() resource.Metadata {
	return resource.Metadata{
		PerformanceScore: 0.8,
		Reliability:      resource.Reliability{Uptime: 0.99},
	}
}

// Name is the registration name for the local host resource.
func (h *HostInfo) Name() string {
	return fmt.Sprintf("local-%s", h.Hostname)
}
