package util

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	if info.Architecture != runtime.GOARCH {
		t.Errorf("architecture = %q, want %q", info.Architecture, runtime.GOARCH)
	}
	if info.CPUCores < 1 {
		t.Errorf("cpu cores = %d", info.CPUCores)
	}
}

func TestGetProcessStats(t *testing.T) {
	stats, err := GetProcessStats()
	if err != nil {
		t.Skipf("process inspection unavailable: %v", err)
	}
	if stats.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", stats.PID, os.Getpid())
	}
	if stats.Goroutines < 1 {
		t.Errorf("goroutines = %d", stats.Goroutines)
	}
}

func TestLocalIPv4AddressesExcludesLoopback(t *testing.T) {
	ips, err := LocalIPv4Addresses()
	if err != nil {
		t.Skipf("interfaces unavailable: %v", err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.To4() == nil {
			t.Errorf("unexpected address %s", ip)
		}
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "tls", "cert.pem")
	key := filepath.Join(dir, "tls", "key.pem")

	if err := GenerateSelfSignedCert(cert, key); err != nil {
		t.Fatalf("GenerateSelfSignedCert: %v", err)
	}
	if !FileExists(cert) || !FileExists(key) {
		t.Fatal("certificate files not written")
	}
}

func TestGetMemoryUsage(t *testing.T) {
	usage, err := GetMemoryUsage()
	if err != nil {
		t.Skipf("memory stats unavailable: %v", err)
	}
	if usage.Total == 0 || usage.UsedPercent < 0 || usage.UsedPercent > 100 {
		t.Errorf("usage = %+v", usage)
	}
}
