package api

import (
	"sync"
	"time"
)

// RequestTrace tracks timing for a single request
type RequestTrace struct {
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// RouteMetrics aggregates metrics for a specific route
type RouteMetrics struct {
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Count       int64         `json:"count"`
	ErrorCount  int64         `json:"errorCount"`
	TotalTime   time.Duration `json:"totalTime"`
	AvgTime     time.Duration `json:"avgTime"`
	MaxTime     time.Duration `json:"maxTime"`
	LastRequest time.Time     `json:"lastRequest"`
}

// MetricsCollector aggregates request metrics. Traces are queued through
// a buffered channel and processed in a background goroutine; when the
// buffer is full the trace is dropped. Missing a metric is acceptable,
// slowing down a request is not.
type MetricsCollector struct {
	mu            sync.RWMutex
	routeMetrics  map[string]*RouteMetrics
	totalRequests int64
	totalErrors   int64
	traceChan     chan RequestTrace
	stopChan      chan struct{}
}

// NewMetricsCollector starts a collector and its trace processor
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		routeMetrics: make(map[string]*RouteMetrics),
		traceChan:    make(chan RequestTrace, 1000),
		stopChan:     make(chan struct{}),
	}
	go mc.processTraces()
	return mc
}

// RecordTrace queues a trace without ever blocking the request path
func (mc *MetricsCollector) RecordTrace(trace RequestTrace) {
	select {
	case mc.traceChan <- trace:
	default:
		// buffer full, drop the trace
	}
}

func (mc *MetricsCollector) processTraces() {
	for {
		select {
		case trace := <-mc.traceChan:
			mc.apply(trace)
		case <-mc.stopChan:
			return
		}
	}
}

func (mc *MetricsCollector) apply(trace RequestTrace) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.totalRequests++
	if trace.Status >= 400 {
		mc.totalErrors++
	}

	key := trace.Method + " " + trace.Path
	rm, ok := mc.routeMetrics[key]
	if !ok {
		rm = &RouteMetrics{Method: trace.Method, Path: trace.Path}
		mc.routeMetrics[key] = rm
	}
	rm.Count++
	if trace.Status >= 400 {
		rm.ErrorCount++
	}
	rm.TotalTime += trace.Duration
	rm.AvgTime = time.Duration(int64(rm.TotalTime) / rm.Count)
	if trace.Duration > rm.MaxTime {
		rm.MaxTime = trace.Duration
	}
	rm.LastRequest = trace.Timestamp
}

// Snapshot returns a copy of the aggregated route metrics
func (mc *MetricsCollector) Snapshot() (map[string]RouteMetrics, int64, int64) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	routes := make(map[string]RouteMetrics, len(mc.routeMetrics))
	for k, v := range mc.routeMetrics {
		routes[k] = *v
	}
	return routes, mc.totalRequests, mc.totalErrors
}

// Stop terminates the trace processor
func (mc *MetricsCollector) Stop() {
	close(mc.stopChan)
}
