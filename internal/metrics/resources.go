package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
)

// ErrNoProcess is returned by Sample when the server is not running.
var ErrNoProcess = errors.New("server process not running")

// Sample is one CPU and memory reading of the server process.
type Sample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// SamplerConfig configures a ResourceSampler.
type SamplerConfig struct {
	Interval   time.Duration
	LimitMB    int // 0 disables the memory warning
	MaxHistory int
}

// ResourceSampler periodically reads the server process' CPU and memory
// through gopsutil, exports them as gauges and keeps a short history. The
// memory warning fires once per server run.
type ResourceSampler struct {
	interval time.Duration
	limitMB  int
	pid      func() int
	notifier notify.Notifier

	mu      sync.RWMutex
	history []Sample
	start   int
	count   int
	handle  *process.Process
	warned  bool
}

// NewResourceSampler creates a sampler for the process reported by pid,
// which returns 0 while no server is running.
func NewResourceSampler(cfg SamplerConfig, pid func() int, n notify.Notifier) *ResourceSampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 120
	}
	if n == nil {
		n = notify.Discard{}
	}
	return &ResourceSampler{
		interval: cfg.Interval,
		limitMB:  cfg.LimitMB,
		pid:      pid,
		notifier: n,
		history:  make([]Sample, cfg.MaxHistory),
	}
}

// Run samples on every interval until ctx is done.
func (s *ResourceSampler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sample(); err != nil && !errors.Is(err, ErrNoProcess) {
				s.notifier.Debug("resource sample failed", "error", err)
			}
		}
	}
}

// Sample takes one reading now.
func (s *ResourceSampler) Sample() (Sample, error) {
	pid := int32(s.pid())
	if pid <= 0 {
		s.mu.Lock()
		s.handle = nil
		s.mu.Unlock()
		return Sample{}, ErrNoProcess
	}
	proc, fresh, err := s.processHandle(pid)
	if err != nil {
		return Sample{}, err
	}
	// CPUPercent on a reused handle measures since the previous call.
	cpu, err := proc.Percent(0)
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("memory info for pid %d: %w", pid, err)
	}
	threads, _ := proc.NumThreads()

	smp := Sample{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}
	SetResources(smp.CPUPercent, smp.MemoryMB)

	s.mu.Lock()
	if fresh {
		s.warned = false
	}
	s.add(smp)
	warn := s.limitMB > 0 && smp.MemoryMB > float64(s.limitMB) && !s.warned
	if warn {
		s.warned = true
	}
	s.mu.Unlock()

	if warn {
		s.notifier.Warning("server memory above configured limit",
			"pid", pid, "memory_mb", fmt.Sprintf("%.0f", smp.MemoryMB), "limit_mb", s.limitMB)
	}
	return smp, nil
}

// processHandle returns a cached gopsutil handle for pid; fresh is true when
// the pid changed since the last sample, i.e. a new server run started.
func (s *ResourceSampler) processHandle(pid int32) (*process.Process, bool, error) {
	s.mu.RLock()
	h := s.handle
	s.mu.RUnlock()
	if h != nil && h.Pid == pid {
		return h, false, nil
	}
	h, err := process.NewProcess(pid)
	if err != nil {
		return nil, false, fmt.Errorf("open pid %d: %w", pid, err)
	}
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	return h, true, nil
}

// add appends to the ring buffer. Caller holds mu.
func (s *ResourceSampler) add(smp Sample) {
	size := len(s.history)
	if s.count < size {
		s.history[(s.start+s.count)%size] = smp
		s.count++
		return
	}
	s.history[s.start] = smp
	s.start = (s.start + 1) % size
}

// Latest returns the most recent sample.
func (s *ResourceSampler) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return Sample{}, false
	}
	return s.history[(s.start+s.count-1)%len(s.history)], true
}

// History returns the retained samples, oldest first.
func (s *ResourceSampler) History() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, s.history[(s.start+i)%len(s.history)])
	}
	return out
}
