package async

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive  int     `json:"workers_active"`
	WorkersTotal   int     `json:"workers_total"`
	JobsProcessed  int     `json:"jobs_processed"`
	MemoryUsedGB   float64 `json:"memory_used_gb"`
	MemoryTotalGB  float64 `json:"memory_total_gb"`
	MemoryPercent  float64 `json:"memory_percent"`
	Load1          float64 `json:"load_1"`
	JobsPending    int     `json:"jobs_pending"`
	JobsProcessing int     `json:"jobs_processing"`
}

const bytesPerGB = 1024 * 1024 * 1024

// getMemoryStats returns total and available bytes
func getMemoryStats() (total, available uint64, err error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Total, vm.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for the available memory.
// Each worker buffers one pipeline result; the pipeline itself runs remotely.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 0.25 // GB
	const memoryBuffer = 1.0     // GB reserved for the rest of the host

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 64 {
		return 64
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage and queue depth.
// Host metrics that cannot be read are reported as zero.
func (wp *WorkerPool) GetSystemMetrics(ctx context.Context) SystemMetrics {
	var m SystemMetrics

	if total, available, err := getMemoryStats(); err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / bytesPerGB
		m.MemoryUsedGB = float64(total-available) / bytesPerGB
		m.MemoryPercent = (m.MemoryUsedGB / m.MemoryTotalGB) * 100
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		m.Load1 = avg.Load1
	}
	if stats, err := wp.queue.Stats(ctx); err == nil {
		m.JobsPending = stats.Pending
		m.JobsProcessing = stats.Processing
	}

	wp.mu.Lock()
	m.WorkersActive = wp.activeWorkers
	m.JobsProcessed = wp.jobsProcessed
	wp.mu.Unlock()
	m.WorkersTotal = wp.config.Workers

	return m
}

// checkMemoryPressure returns a warning when the worker count is too high
// for available memory, or "" when it is fine or memory cannot be read.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / bytesPerGB
	totalGB := float64(total) / bytesPerGB
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.config.Workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing pulse.workers.",
			wp.config.Workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
