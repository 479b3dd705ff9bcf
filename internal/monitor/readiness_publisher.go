package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/aggregator"
	"github.com/templeops/temple-tasks/internal/model"
)

const (
	metricsStreamName       = "METRICS"
	readinessMetricsSubject = "metrics.readiness"
)

// ReadinessSnapshot is the dashboard feed payload: the day's readiness
// rollups plus host utilization of the publishing node
type ReadinessSnapshot struct {
	Timestamp   time.Time                    `json:"timestamp"`
	Date        string                       `json:"date"`
	ByTimeBlock []aggregator.ReadinessMetric `json:"by_time_block"`
	ByFunction  []aggregator.ReadinessMetric `json:"by_function"`
	CPUUsage    float64                      `json:"cpu_usage"`
	MemoryUsage float64                      `json:"memory_usage"`
}

// ReadinessPublisher periodically publishes readiness snapshots for
// external dashboards
type ReadinessPublisher struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	agg      *aggregator.Aggregator
	interval time.Duration
	stop     chan struct{}
}

// NewReadinessPublisher creates a readiness publisher
func NewReadinessPublisher(js nats.JetStreamContext, agg *aggregator.Aggregator, interval time.Duration, logger *zap.Logger) *ReadinessPublisher {
	return &ReadinessPublisher{
		logger:   logger.Named("readiness-publisher"),
		js:       js,
		agg:      agg,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start ensures the metrics stream exists and starts the publish loop
func (p *ReadinessPublisher) Start(ctx context.Context) error {
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:     metricsStreamName,
		Subjects: []string{"metrics.*"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return err
	}

	go p.publishLoop(ctx)
	p.logger.Info("Readiness publisher started",
		zap.Duration("interval", p.interval))
	return nil
}

// Stop stops the publish loop
func (p *ReadinessPublisher) Stop() {
	p.logger.Info("Stopping readiness publisher")
	close(p.stop)
}

func (p *ReadinessPublisher) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.publishSnapshot(ctx)
		}
	}
}

func (p *ReadinessPublisher) publishSnapshot(ctx context.Context) {
	date := time.Now().Format(model.DateLayout)
	snapshot := ReadinessSnapshot{
		Timestamp:   time.Now(),
		Date:        date,
		ByTimeBlock: p.agg.ComputeReadiness(ctx, date, aggregator.GroupByTimeBlock),
		ByFunction:  p.agg.ComputeReadiness(ctx, date, aggregator.GroupByFunction),
	}

	// Host metrics are best-effort; the readiness rollup still publishes
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		snapshot.CPUUsage = cpuPercent[0]
	} else if err != nil {
		p.logger.Warn("Failed to get CPU usage", zap.Error(err))
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		snapshot.MemoryUsage = memInfo.UsedPercent
	} else {
		p.logger.Warn("Failed to get memory usage", zap.Error(err))
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.Error("Failed to marshal readiness snapshot", zap.Error(err))
		return
	}

	if _, err := p.js.Publish(readinessMetricsSubject, data); err != nil {
		p.logger.Error("Failed to publish readiness snapshot", zap.Error(err))
		return
	}

	p.logger.Debug("Readiness snapshot published",
		zap.String("date", date),
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage))
}
