package server

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// systemStats is the process and host resource snapshot.
type systemStats struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryRSSMB    float64 `json:"memory_rss_mb"`
	HostMemUsedPct float64 `json:"host_mem_used_pct"`
	Goroutines     int     `json:"goroutines"`
}

// handleStatus reports data-source health, process stats, and uptime.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "history_limit", 50)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"services":       s.deps.Monitor.Latest(),
		"history":        s.deps.Monitor.History(limit),
		"system":         s.collectSystemStats(),
		"uptime_seconds": time.Since(s.deps.StartedAt).Seconds(),
	})
}

func (s *Server) collectSystemStats() systemStats {
	stats := systemStats{Goroutines: runtime.NumGoroutine()}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			stats.CPUPercent = cpu
		}
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			stats.MemoryRSSMB = float64(memInfo.RSS) / (1024 * 1024)
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		stats.HostMemUsedPct = vm.UsedPercent
	}

	return stats
}

// handleHealth verifies database connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.DB.QuickCheck(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}
