package emotion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/pkg/metrics"
)

// StrategyStatus describes one strategy after probing
type StrategyStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Probed    bool   `json:"probed"`
	Error     string `json:"error,omitempty"`
}

// Chain runs classifier strategies in priority order. Strategies are probed
// once, on first use, and unavailable ones are skipped for the lifetime of
// the chain.
type Chain struct {
	strategies   []repositories.EmotionClassifier
	probeTimeout time.Duration
	logger       *zap.Logger

	once      sync.Once
	available []repositories.EmotionClassifier

	mu     sync.RWMutex
	status []StrategyStatus
}

// NewChain creates a chain over strategies in priority order
func NewChain(strategies []repositories.EmotionClassifier, probeTimeout time.Duration, logger *zap.Logger) *Chain {
	if probeTimeout <= 0 {
		probeTimeout = 30 * time.Second
	}
	status := make([]StrategyStatus, len(strategies))
	for i, s := range strategies {
		status[i] = StrategyStatus{Name: s.Name()}
	}
	return &Chain{
		strategies:   strategies,
		probeTimeout: probeTimeout,
		logger:       logger,
		status:       status,
	}
}

// Init probes every strategy exactly once. Concurrent callers block until
// the first probe pass completes. Cancelling ctx does not abort the
// pass; its outcome is shared by every later caller.
func (c *Chain) Init(ctx context.Context) {
	c.once.Do(func() {
		ctx := context.WithoutCancel(ctx)
		for i, s := range c.strategies {
			err := c.probe(ctx, s)
			metrics.SetStrategyAvailable(s.Name(), err == nil)
			c.mu.Lock()
			c.status[i].Probed = true
			c.status[i].Available = err == nil
			if err != nil {
				c.status[i].Error = err.Error()
			}
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("Classifier strategy unavailable",
					zap.String("strategy", s.Name()),
					zap.Error(err))
				continue
			}
			c.available = append(c.available, s)
			c.logger.Info("Classifier strategy available", zap.String("strategy", s.Name()))
		}
		if len(c.available) == 0 {
			c.logger.Warn("No classifier strategy available, every frame will be neutral")
		}
	})
}

func (c *Chain) probe(ctx context.Context, s repositories.EmotionClassifier) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return s.Probe(ctx)
}

// Classify returns the first detection produced by an available strategy,
// or a neutral detection with an empty strategy when none produced one.
func (c *Chain) Classify(ctx context.Context, frame *entities.Frame) entities.Detection {
	c.Init(ctx)

	for _, s := range c.available {
		if ctx.Err() != nil {
			break
		}
		d, err := c.classify(ctx, s, frame)
		if err != nil {
			metrics.RecordStrategyFault(s.Name())
			c.logger.Warn("Classifier strategy failed",
				zap.String("strategy", s.Name()),
				zap.Error(err))
			continue
		}
		if d == nil {
			c.logger.Debug("No face found", zap.String("strategy", s.Name()))
			continue
		}
		d.Label = entities.NormalizeEmotion(string(d.Label))
		if d.Strategy == "" {
			d.Strategy = s.Name()
		}
		return *d
	}
	return entities.NeutralDetection()
}

func (c *Chain) classify(ctx context.Context, s repositories.EmotionClassifier, frame *entities.Frame) (d *entities.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("classifier panicked: %v", r)
		}
	}()
	return s.Classify(ctx, frame)
}

// Status reports probe outcomes. Strategies report Probed false until the
// chain is first used.
func (c *Chain) Status() []StrategyStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]StrategyStatus, len(c.status))
	copy(out, c.status)
	return out
}
