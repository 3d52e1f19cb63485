package script

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceProber reports current host utilization. The production
// implementation reads /proc via gopsutil; tests substitute a stub.
type ResourceProber interface {
	// CPUPercent returns load average normalized to core count, as a
	// percentage. 100 means one full core of runnable load per core.
	CPUPercent() (float64, error)

	// MemoryPercent returns used physical memory as a percentage
	MemoryPercent() (float64, error)
}

type hostProber struct{}

// NewHostProber returns the gopsutil-backed prober
func NewHostProber() ResourceProber {
	return &hostProber{}
}

func (p *hostProber) CPUPercent() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, fmt.Errorf("failed to read load average: %w", err)
	}
	cores := runtime.NumCPU()
	if cores < 1 {
		cores = 1
	}
	return avg.Load1 / float64(cores) * 100, nil
}

func (p *hostProber) MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory stats: %w", err)
	}
	return vm.UsedPercent, nil
}
