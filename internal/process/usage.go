package process

import (
	gopsprocess "github.com/shirou/gopsutil/v4/process"
)

// Usage is a resource sample of a running process.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
}

// SampleUsage reads CPU and resident memory for pid.
func SampleUsage(pid int) (*Usage, error) {
	p, err := gopsprocess.NewProcess(int32(pid)) // #nosec G115
	if err != nil {
		return nil, err
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return nil, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil, err
	}
	return &Usage{CPUPercent: cpu, MemoryRSS: mem.RSS}, nil
}
