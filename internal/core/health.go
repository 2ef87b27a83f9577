package core

import (
	"time"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/artifact"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/emitter"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/eventbus"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/inference"
)

// HealthStatus represents the health state of the preview service
type HealthStatus struct {
	Status        string              `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64               `json:"uptime_seconds"`
	NativeBackend string              `json:"native_backend"`
	WorkerActive  bool                `json:"worker_active"`
	MQTTEnabled   bool                `json:"mqtt_enabled"`
	MQTTConnected bool                `json:"mqtt_connected"`
	ActiveRuns    int                 `json:"active_runs"`
	Cache         artifact.CacheStats `json:"cache"`
	Events        eventbus.Stats      `json:"events"`
	Worker        *inference.Metrics  `json:"worker,omitempty"`
	MQTT          *emitter.Stats      `json:"mqtt,omitempty"`
}

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	running, started := s.isRunning, s.started
	s.mu.RUnlock()

	status := HealthStatus{
		Status:        "healthy",
		NativeBackend: s.native.Name(),
		WorkerActive:  true,
		MQTTEnabled:   s.emitter != nil,
		Cache:         s.cache.Stats(),
		Events:        s.bus.Stats(),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if runs := s.Runs(); runs != nil {
		status.ActiveRuns = runs.Active()
	}

	if s.worker != nil {
		m := s.worker.Metrics()
		status.Worker = &m
		status.WorkerActive = m.Active
	}
	if s.emitter != nil {
		st := s.emitter.Stats()
		status.MQTT = &st
		status.MQTTConnected = st.Connected
	}

	switch {
	case !running || !status.WorkerActive:
		status.Status = "unhealthy"
	case status.MQTTEnabled && !status.MQTTConnected:
		status.Status = "degraded"
	}
	return status
}

// readiness reports ready unless unhealthy. A degraded service still serves HTTP.
func (s *Service) readiness() (bool, any) {
	h := s.HealthCheck()
	return h.Status != "unhealthy", h
}

// getStatus answers the get_status control command.
func (s *Service) getStatus() map[string]interface{} {
	h := s.HealthCheck()
	status := map[string]interface{}{
		"instance_id":    s.cfg.InstanceID,
		"status":         h.Status,
		"uptime_s":       h.UptimeSeconds,
		"native_backend": h.NativeBackend,
		"active_runs":    h.ActiveRuns,
		"cache": map[string]interface{}{
			"hits":   h.Cache.Hits,
			"misses": h.Cache.Misses,
			"writes": h.Cache.Writes,
		},
		"events": map[string]interface{}{
			"published": h.Events.Published,
			"dropped":   h.Events.Dropped,
		},
		"config": map[string]interface{}{
			"tile_size":           s.cfg.Synthesis.TileSize,
			"threshold":           s.cfg.Threshold(),
			"max_concurrent_runs": s.cfg.Pipeline.MaxConcurrentRuns,
		},
	}
	if h.Worker != nil {
		status["worker"] = map[string]interface{}{
			"active":         h.Worker.Active,
			"requests":       h.Worker.Requests,
			"failures":       h.Worker.Failures,
			"avg_latency_ms": h.Worker.AvgLatencyMS,
			"restarts":       h.Worker.Restarts,
		}
	}
	return status
}
