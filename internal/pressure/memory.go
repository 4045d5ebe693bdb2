package pressure

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// MemorySamplerConfig holds configuration for the memory-pressure sampler.
type MemorySamplerConfig struct {
	// HighWatermarkBytes is the heap-in-use size above which pressure is
	// reported as high.
	HighWatermarkBytes uint64 `mapstructure:"high_watermark_bytes"`

	// Interval is how often the heap is sampled.
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultMemorySamplerConfig returns a MemorySamplerConfig with
// reasonable defaults.
func DefaultMemorySamplerConfig() MemorySamplerConfig {
	return MemorySamplerConfig{
		HighWatermarkBytes: 512 << 20, // 512 MiB
		Interval:           15 * time.Second,
	}
}

// MemorySampler periodically reads heap usage and derives a pressure
// level. Subscribers are notified on level transitions only, not on
// every sample.
type MemorySampler struct {
	config MemorySamplerConfig
	logger *slog.Logger

	mu        sync.RWMutex
	level     Level
	usedBytes uint64
	onChange  []func(Level)

	cancel context.CancelFunc
	done   chan struct{}

	// readMemStats is replaceable in tests.
	readMemStats func(*runtime.MemStats)
}

// NewMemorySampler creates a sampler; call Start to begin sampling.
func NewMemorySampler(config MemorySamplerConfig, logger *slog.Logger) *MemorySampler {
	if config.Interval <= 0 {
		config.Interval = DefaultMemorySamplerConfig().Interval
	}
	if config.HighWatermarkBytes == 0 {
		config.HighWatermarkBytes = DefaultMemorySamplerConfig().HighWatermarkBytes
	}
	return &MemorySampler{
		config:       config,
		logger:       logger.With("component", "memory_sampler"),
		level:        LevelNormal,
		readMemStats: runtime.ReadMemStats,
	}
}

// Level returns the most recently derived pressure level.
func (m *MemorySampler) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// UsedBytes returns the heap-in-use size from the last sample.
func (m *MemorySampler) UsedBytes() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usedBytes
}

// OnChange registers a callback invoked on every level transition.
func (m *MemorySampler) OnChange(fn func(Level)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Start begins periodic sampling until Stop is called.
func (m *MemorySampler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the sampling goroutine to exit.
func (m *MemorySampler) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// Sample reads heap usage once and updates the derived level. Exposed so
// tests and pressure-sensitive callers can force a reading.
func (m *MemorySampler) Sample() {
	var stats runtime.MemStats
	m.readMemStats(&stats)

	level := LevelNormal
	if stats.HeapInuse > m.config.HighWatermarkBytes {
		level = LevelHigh
	}

	m.mu.Lock()
	m.usedBytes = stats.HeapInuse
	changed := level != m.level
	m.level = level
	callbacks := m.onChange
	m.mu.Unlock()

	if changed {
		m.logger.Info("memory pressure level changed",
			"level", level,
			"heap_in_use_bytes", stats.HeapInuse,
			"high_watermark_bytes", m.config.HighWatermarkBytes)
		for _, fn := range callbacks {
			fn(level)
		}
	}
}
