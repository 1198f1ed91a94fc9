package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGather := prometheus.DefaultGatherer
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGather
	})
	return reg
}

func TestNoopMetrics(t *testing.T) {
	var m Noop
	m.IncCacheHit()
	m.IncCacheMiss()
	m.IncCacheEviction()
	m.IncCategoryWrite("create")
	m.IncCallbackFailure("rest_api")
	m.IncTasksStarted("purge")
	m.IncTasksCompleted("purge", "ok")
	m.AddTasksPurged(3)
	m.SetRunningTasks(1)
}

func TestConfigPromMetrics(t *testing.T) {
	reg := withTestRegistry(t)
	m := NewConfigProm("edgeconf")
	m.IncCacheHit()
	m.IncCacheMiss()
	m.IncCacheEviction()
	m.IncCategoryWrite("update")
	m.IncCallbackFailure("rest_api")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, name := range []string{"edgeconf_config_cache_hits_total", "edgeconf_config_cache_misses_total", "edgeconf_config_cache_evictions_total"} {
		if !hasMetric(families, name, nil) {
			t.Fatalf("expected %s metric", name)
		}
	}
	if !hasMetric(families, "edgeconf_config_category_writes_total", map[string]string{"op": "update"}) {
		t.Fatalf("expected category_writes metric")
	}
	if !hasMetric(families, "edgeconf_config_callback_failures_total", map[string]string{"category": "rest_api"}) {
		t.Fatalf("expected callback_failures metric")
	}
}

func TestSchedulerMetrics(t *testing.T) {
	reg := withTestRegistry(t)
	m := NewSchedulerProm("edgeconf")
	m.IncTasksStarted("purge")
	m.IncTasksCompleted("purge", "ok")
	m.AddTasksPurged(2)
	m.SetRunningTasks(4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(families, "edgeconf_scheduler_tasks_started_total", map[string]string{"schedule": "purge"}) {
		t.Fatalf("expected tasks_started metric")
	}
	if !hasMetric(families, "edgeconf_scheduler_tasks_completed_total", map[string]string{"schedule": "purge", "status": "ok"}) {
		t.Fatalf("expected tasks_completed metric")
	}
	if !hasMetric(families, "edgeconf_scheduler_tasks_purged_total", nil) {
		t.Fatalf("expected tasks_purged metric")
	}
	for _, fam := range families {
		if fam.GetName() == "edgeconf_scheduler_running_tasks" && fam.GetMetric()[0].GetGauge().GetValue() != 4 {
			t.Fatalf("unexpected running gauge")
		}
	}
}

func TestHandler(t *testing.T) {
	withTestRegistry(t)
	m := NewConfigProm("edgeconf")
	m.IncCacheHit()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected metrics output")
	}
}

func hasMetric(families []*dto.MetricFamily, name string, labels map[string]string) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				return true
			}
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, labels map[string]string) bool {
	if len(labels) == 0 {
		return true
	}
	found := 0
	for _, pair := range pairs {
		if val, ok := labels[pair.GetName()]; ok && pair.GetValue() == val {
			found++
		}
	}
	return found == len(labels)
}
