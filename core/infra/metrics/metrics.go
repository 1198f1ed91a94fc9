package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConfigMetrics captures configuration manager activity.
type ConfigMetrics interface {
	IncCacheHit()
	IncCacheMiss()
	IncCacheEviction()
	IncCategoryWrite(op string)
	IncCallbackFailure(category string)
}

// SchedulerMetrics captures scheduler activity.
type SchedulerMetrics interface {
	IncTasksStarted(schedule string)
	IncTasksCompleted(schedule, status string)
	AddTasksPurged(n int)
	SetRunningTasks(n int)
}

// Noop implements ConfigMetrics and SchedulerMetrics without emitting anything.
type Noop struct{}

func (Noop) IncCacheHit()                     {}
func (Noop) IncCacheMiss()                    {}
func (Noop) IncCacheEviction()                {}
func (Noop) IncCategoryWrite(string)          {}
func (Noop) IncCallbackFailure(string)        {}
func (Noop) IncTasksStarted(string)           {}
func (Noop) IncTasksCompleted(string, string) {}
func (Noop) AddTasksPurged(int)               {}
func (Noop) SetRunningTasks(int)              {}

// ConfigProm implements ConfigMetrics backed by Prometheus counters.
type ConfigProm struct {
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheEvictions   prometheus.Counter
	categoryWrites   *prometheus.CounterVec
	callbackFailures *prometheus.CounterVec
	once             sync.Once
}

// NewConfigProm registers the configuration manager collectors.
func NewConfigProm(namespace string) *ConfigProm {
	p := &ConfigProm{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_cache_hits_total",
			Help:      "Category cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_cache_misses_total",
			Help:      "Category cache misses",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_cache_evictions_total",
			Help:      "Categories evicted from the cache",
		}),
		categoryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_category_writes_total",
			Help:      "Category writes by operation",
		}, []string{"op"}),
		callbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_callback_failures_total",
			Help:      "Failed change callbacks by category",
		}, []string{"category"}),
	}
	p.once.Do(func() {
		prometheus.MustRegister(p.cacheHits, p.cacheMisses, p.cacheEvictions, p.categoryWrites, p.callbackFailures)
	})
	return p
}

func (p *ConfigProm) IncCacheHit()      { p.cacheHits.Inc() }
func (p *ConfigProm) IncCacheMiss()     { p.cacheMisses.Inc() }
func (p *ConfigProm) IncCacheEviction() { p.cacheEvictions.Inc() }

func (p *ConfigProm) IncCategoryWrite(op string) {
	p.categoryWrites.WithLabelValues(op).Inc()
}

func (p *ConfigProm) IncCallbackFailure(category string) {
	p.callbackFailures.WithLabelValues(category).Inc()
}

// --- Scheduler metrics ---

type schedulerProm struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	purged    prometheus.Counter
	running   prometheus.Gauge
	once      sync.Once
}

// NewSchedulerProm constructs SchedulerMetrics with counters and a running gauge.
func NewSchedulerProm(namespace string) SchedulerMetrics {
	s := &schedulerProm{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tasks_started_total",
			Help:      "Tasks started by schedule",
		}, []string{"schedule"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tasks_completed_total",
			Help:      "Tasks completed by schedule and status",
		}, []string{"schedule", "status"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tasks_purged_total",
			Help:      "Completed task records purged",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running_tasks",
			Help:      "Tasks currently running",
		}),
	}
	s.once.Do(func() {
		prometheus.MustRegister(s.started, s.completed, s.purged, s.running)
	})
	return s
}

func (s *schedulerProm) IncTasksStarted(schedule string) {
	s.started.WithLabelValues(schedule).Inc()
}

func (s *schedulerProm) IncTasksCompleted(schedule, status string) {
	s.completed.WithLabelValues(schedule, status).Inc()
}

func (s *schedulerProm) AddTasksPurged(n int) {
	if n > 0 {
		s.purged.Add(float64(n))
	}
}

func (s *schedulerProm) SetRunningTasks(n int) {
	s.running.Set(float64(n))
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
