package workers

import (
	"call-lab/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

type HealthWorker struct {
	log      *slog.Logger
	monitor  *observability.MonitoringManager
	interval time.Duration
}

func NewHealthWorker(log *slog.Logger, monitor *observability.MonitoringManager,
	interval time.Duration) *HealthWorker {
	return &HealthWorker{log: log, monitor: monitor, interval: interval}
}

// Run samples the bridge process (CPU, RAM, Status) every interval and feeds
// the monitoring snapshot.
func (w *HealthWorker) Run(ctx context.Context) error {
	w.log.Info("Starting health worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return nil
		case <-ticker.C:
			rss, cpu, status, err := getSelfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.monitor.SetProcessStats(cpu, rss/1024/1024)
			w.log.Debug("💓 Heartbeat", "status", status, "cpu_percent", cpu, "rss_mb", rss/1024/1024)
		}
	}
}

// getSelfStats retrieves technical metrics (Memory, CPU, and OS Status) for the given process.
func getSelfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}

	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
