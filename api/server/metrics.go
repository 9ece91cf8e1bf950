package server

import (
	"runtime"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"consentchain/core/ledger"
)

// CursorMetrics reports one projection category's progress against the
// event log head.
type CursorMetrics struct {
	Category  ledger.Category `json:"category"`
	Position  uint64          `json:"position"`
	Lag       uint64          `json:"lag"`
	UpdatedAt string          `json:"updatedAt,omitempty"`
}

// NodeMetrics holds granular health metrics for the node.
type NodeMetrics struct {
	UptimeSeconds  int64           `json:"uptime_seconds"`
	EventPosition  uint64          `json:"event_position"`
	Cursors        []CursorMetrics `json:"cursors"`
	MaxCursorLag   uint64          `json:"max_cursor_lag"`
	CPULoadPercent float64         `json:"cpu_load_percent"`
	MemoryMB       float64         `json:"memory_mb"`
	DiskFreeMB     float64         `json:"disk_free_mb"`
}

// Track server start time for uptime calculation
var startTime = time.Now()

// GetNodeMetrics returns current health metrics for the node.
func (s *Server) GetNodeMetrics() NodeMetrics {
	uptime := int64(time.Since(startTime).Seconds())

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryMB := float64(m.Alloc) / (1024 * 1024)

	// Disk usage (root partition)
	var disk syscall.Statfs_t
	diskFreeMB := 0.0
	if err := syscall.Statfs("/", &disk); err == nil {
		diskFreeMB = float64(disk.Bfree) * float64(disk.Bsize) / (1024 * 1024)
	}

	cpuPercents, err := cpu.Percent(0, false)
	cpuLoad := 0.0
	if err == nil && len(cpuPercents) > 0 {
		cpuLoad = cpuPercents[0]
	}

	head := s.ledger.EventLog().LastPosition()
	cursors := make([]CursorMetrics, 0, len(ledger.Categories))
	var maxLag uint64
	for _, cat := range ledger.Categories {
		cm := CursorMetrics{Category: cat}
		cursor, err := s.engine.Cursor(cat)
		if err == nil {
			cm.Position = cursor.LastProcessedPosition
			if !cursor.UpdatedAt.IsZero() {
				cm.UpdatedAt = cursor.UpdatedAt.Format(time.RFC3339)
			}
		}
		if head > cm.Position {
			cm.Lag = head - cm.Position
		}
		if cm.Lag > maxLag {
			maxLag = cm.Lag
		}
		cursors = append(cursors, cm)
	}

	return NodeMetrics{
		UptimeSeconds:  uptime,
		EventPosition:  head,
		Cursors:        cursors,
		MaxCursorLag:   maxLag,
		CPULoadPercent: cpuLoad,
		MemoryMB:       memoryMB,
		DiskFreeMB:     diskFreeMB,
	}
}
