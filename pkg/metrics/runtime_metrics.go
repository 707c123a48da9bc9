package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	runtimeOnce sync.Once

	// System metrics
	SystemMemoryUsage prometheus.Gauge
	SystemGoroutines  prometheus.Gauge

	// Session store metrics
	RedisOperations *prometheus.CounterVec
	RedisLatency    *prometheus.HistogramVec
)

// RuntimeCollector samples process metrics on an interval
type RuntimeCollector struct {
	logger          *logrus.Logger
	collectInterval time.Duration
	stopChan        chan struct{}
	stopOnce        sync.Once
}

// InitRuntimeMetrics registers the system and Redis collectors and starts
// sampling. Init must have been called first.
func InitRuntimeMetrics(logger *logrus.Logger, interval time.Duration) *RuntimeCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	runtimeOnce.Do(func() {
		SystemMemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "estate_voice_system_memory_usage_bytes",
			Help: "Current heap allocation in bytes",
		})
		SystemGoroutines = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "estate_voice_system_goroutines",
			Help: "Number of goroutines",
		})
		RedisOperations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estate_voice_redis_operations_total",
				Help: "Session store operations against Redis",
			},
			[]string{"operation", "status"},
		)
		RedisLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estate_voice_redis_latency_seconds",
				Help:    "Redis operation latency",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
			},
			[]string{"operation"},
		)

		if registry != nil {
			registry.MustRegister(SystemMemoryUsage, SystemGoroutines, RedisOperations, RedisLatency)
		}
	})

	c := &RuntimeCollector{
		logger:          logger,
		collectInterval: interval,
		stopChan:        make(chan struct{}),
	}
	c.collect()
	go c.start()

	logger.WithField("interval", interval).Debug("Runtime metrics collector started")
	return c
}

func (c *RuntimeCollector) start() {
	ticker := time.NewTicker(c.collectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *RuntimeCollector) collect() {
	if !active() || SystemMemoryUsage == nil {
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	SystemMemoryUsage.Set(float64(m.Alloc))
	SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}

// Stop ends sampling
func (c *RuntimeCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// RecordRedisOperation counts one session store call
func RecordRedisOperation(operation string, duration time.Duration, err error) {
	if !active() || RedisOperations == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	RedisOperations.WithLabelValues(operation, status).Inc()
	RedisLatency.WithLabelValues(operation).Observe(duration.Seconds())
}
