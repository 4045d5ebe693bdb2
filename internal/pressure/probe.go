package pressure

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProbeSamplerConfig holds configuration for the connection-quality probe.
type ProbeSamplerConfig struct {
	// URL is probed with a HEAD request; round-trip time buckets into a
	// quality level.
	URL string `mapstructure:"url"`

	// Interval is how often the probe runs.
	Interval time.Duration `mapstructure:"interval"`

	// Timeout bounds one probe; exceeding it reports offline.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultProbeSamplerConfig returns a ProbeSamplerConfig with reasonable
// defaults.
func DefaultProbeSamplerConfig() ProbeSamplerConfig {
	return ProbeSamplerConfig{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// ProbeSampler derives connection quality from the latency of periodic
// HEAD requests against a well-known endpoint. It implements QualitySource.
type ProbeSampler struct {
	config ProbeSamplerConfig
	client *http.Client
	logger *slog.Logger

	mu      sync.RWMutex
	quality Quality

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProbeSampler creates a sampler; call Start to begin probing.
// Quality starts at moderate until the first probe completes.
func NewProbeSampler(config ProbeSamplerConfig, logger *slog.Logger) *ProbeSampler {
	if config.Interval <= 0 {
		config.Interval = DefaultProbeSamplerConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultProbeSamplerConfig().Timeout
	}
	return &ProbeSampler{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger.With("component", "probe_sampler"),
		quality: QualityModerate,
	}
}

// Quality returns the most recently derived connection quality.
func (p *ProbeSampler) Quality() Quality {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quality
}

// Start begins periodic probing until Stop is called.
func (p *ProbeSampler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.config.Interval)
		defer ticker.Stop()

		p.probe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.probe(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the probe goroutine to exit.
func (p *ProbeSampler) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *ProbeSampler) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.config.URL, nil)
	if err != nil {
		p.setQuality(QualityOffline)
		return
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.setQuality(QualityOffline)
		return
	}
	_ = resp.Body.Close()

	p.setQuality(bucketLatency(time.Since(start)))
}

func bucketLatency(rtt time.Duration) Quality {
	switch {
	case rtt < 50*time.Millisecond:
		return QualityExcellent
	case rtt < 150*time.Millisecond:
		return QualityFast
	case rtt < 500*time.Millisecond:
		return QualityModerate
	default:
		return QualitySlow
	}
}

func (p *ProbeSampler) setQuality(q Quality) {
	p.mu.Lock()
	changed := q != p.quality
	p.quality = q
	p.mu.Unlock()

	if changed {
		p.logger.Info("connection quality changed", "quality", q)
	}
}
