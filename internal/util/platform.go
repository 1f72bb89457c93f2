package util

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	mib = 1 << 20
	gib = 1 << 30
)

// SystemInfo describes the host the matchmaker runs on. It is logged at
// startup, published in the MQTT status message and served by the API.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	Uptime       uint64 `json:"uptime_sec"`
}

// GetSystemInfo fills in what the runtime knows and lets gopsutil refine
// it. Anything gopsutil cannot read stays at the runtime value or zero.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{OS: runtime.GOOS, Architecture: runtime.GOARCH, CPUCores: runtime.NumCPU()}
	info.Hostname, _ = os.Hostname()

	if h, err := host.Info(); err == nil {
		info.OS = h.Platform + " " + h.PlatformVersion
		info.Uptime = h.Uptime
	}
	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total / mib
	}
	return info
}

// GetCPUUsage is the host-wide CPU percentage since the previous call.
func GetCPUUsage() (float64, error) {
	pct, err := cpu.Percent(0, false)
	if err != nil || len(pct) == 0 {
		return 0, err
	}
	return pct[0], nil
}

type MemoryUsage struct {
	Total       uint64  `json:"total_mb"`
	Used        uint64  `json:"used_mb"`
	Available   uint64  `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

func GetMemoryUsage() (*MemoryUsage, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	return &MemoryUsage{
		Total:       vm.Total / mib,
		Used:        vm.Used / mib,
		Available:   vm.Available / mib,
		UsedPercent: vm.UsedPercent,
	}, nil
}

// ProcessStats describes the matchmaker process itself.
type ProcessStats struct {
	PID        int     `json:"pid"`
	RSS        uint64  `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	OpenFiles  int     `json:"open_files"`
}

// GetProcessStats samples the current process. Individual figures that
// cannot be read are reported as zero.
func GetProcessStats() (*ProcessStats, error) {
	stats := &ProcessStats{PID: os.Getpid(), Goroutines: runtime.NumGoroutine()}
	p, err := process.NewProcess(int32(stats.PID))
	if err != nil {
		return nil, fmt.Errorf("inspect process %d: %w", stats.PID, err)
	}
	if m, err := p.MemoryInfo(); err == nil {
		stats.RSS = m.RSS / mib
	}
	stats.CPUPercent, _ = p.CPUPercent()
	if files, err := p.OpenFiles(); err == nil {
		stats.OpenFiles = len(files)
	}
	return stats, nil
}

// DiskUsage is the usage of one volume, in whole gigabytes.
type DiskUsage struct {
	Total       uint64  `json:"total_gb"`
	Free        uint64  `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// GetDiskUsage reports on the volume that holds path.
func GetDiskUsage(path string) (*DiskUsage, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return nil, err
	}
	return &DiskUsage{Total: u.Total / gib, Free: u.Free / gib, UsedPercent: u.UsedPercent}, nil
}

// LocalIPv4Addresses lists this host's IPv4 interface addresses, loopback
// excluded. The probe advertises them as LAN candidates.
func LocalIPv4Addresses() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}
	var out []net.IP
	for _, a := range addrs {
		n, ok := a.(*net.IPNet)
		if !ok || n.IP.IsLoopback() {
			continue
		}
		if v4 := n.IP.To4(); v4 != nil {
			out = append(out, v4)
		}
	}
	return out, nil
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
