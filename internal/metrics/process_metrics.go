package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	childCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bedrockd",
		Subsystem: "child",
		Name:      "cpu_percent",
		Help:      "CPU usage percentage of the server process.",
	})
	childMemoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bedrockd",
		Subsystem: "child",
		Name:      "memory_rss_bytes",
		Help:      "Resident memory of the server process.",
	})
	childThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bedrockd",
		Subsystem: "child",
		Name:      "num_threads",
		Help:      "Number of threads of the server process.",
	})
)

// ProcessSample is one CPU/memory reading of the server process.
type ProcessSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// SampleProcess reads CPU and memory usage of pid.
func SampleProcess(pid int32) (ProcessSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessSample{}, err
	}
	s := ProcessSample{PID: pid, Timestamp: time.Now()}
	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ProcessSample{}, err
	}
	s.MemoryRSS = mem.RSS
	s.MemoryVMS = mem.VMS
	if runtime.GOOS != "windows" {
		if n, err := proc.NumThreads(); err == nil {
			s.NumThreads = n
		}
	}
	return s, nil
}

// Sampler periodically samples the current server process and exports the
// readings as gauges. pid returns 0 while the server is offline.
type Sampler struct {
	Interval time.Duration
	PID      func() int
	Logger   *slog.Logger
}

// Run samples until ctx is cancelled.
func (s Sampler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.sampleOnce(log)
		}
	}
}

func (s Sampler) sampleOnce(log *slog.Logger) {
	pid := s.PID()
	if pid <= 0 {
		childCPUPercent.Set(0)
		childMemoryBytes.Set(0)
		childThreads.Set(0)
		return
	}
	sample, err := SampleProcess(int32(pid))
	if err != nil {
		log.Debug("sample server process", "pid", pid, "error", err)
		return
	}
	childCPUPercent.Set(sample.CPUPercent)
	childMemoryBytes.Set(float64(sample.MemoryRSS))
	childThreads.Set(float64(sample.NumThreads))
}
