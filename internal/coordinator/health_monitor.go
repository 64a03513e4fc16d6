package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/halomesh/internal/cluster"
	"github.com/dreamware/halomesh/internal/logging"
)

// Health states reported by the monitor.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// WorkerHealth tracks the health status of a single worker.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type WorkerHealth struct {
	LastCheck        time.Time `json:"last_check"`   // Timestamp of the last health check attempt
	LastHealthy      time.Time `json:"last_healthy"` // Timestamp of the last successful health check
	WorkerID         string    `json:"worker_id"`
	Status           string    `json:"status"` // StatusHealthy, StatusUnhealthy or StatusUnknown
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// HealthMonitor periodically probes every registered worker's /health
// endpoint. A worker that fails maxFailures probes in a row is marked
// unhealthy and the onUnhealthy callback fires once; the service uses it to
// abort the running mesh job.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	workers     map[string]*WorkerHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(workerID string)
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex // Protects workers and the callbacks
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor probing every interval. Workers are
// marked unhealthy after 3 consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, logger)
//	go monitor.Start(ctx, registry.Workers)
func NewHealthMonitor(interval time.Duration, logger *slog.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		workers:     make(map[string]*WorkerHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		logger: logging.OrDefault(logger).With("component", "health"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnUnhealthy sets the callback invoked (in its own goroutine) when a
// worker becomes unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(workerID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the HTTP probe. Useful for testing.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkFunc = checkFunc
}

// Start checks the workers returned by provider immediately and then every
// interval, until ctx is cancelled or Stop is called. It blocks.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []cluster.WorkerInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	h.mu.Lock()
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}
	h.mu.Unlock()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", "interval", h.interval)

	h.checkAll(provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(provider())
		case <-ctx.Done():
			h.logger.Info("health monitor stopping", "reason", ctx.Err())
			return
		case <-h.ctx.Done():
			h.logger.Info("health monitor stopping", "reason", "stopped")
			return
		}
	}
}

// Stop cancels the monitoring goroutine and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAll probes every worker and forgets workers no longer registered.
func (h *HealthMonitor) checkAll(workers []cluster.WorkerInfo) {
	current := make(map[string]bool, len(workers))
	for _, w := range workers {
		current[w.ID] = true
		h.checkWorker(w)
	}

	h.mu.Lock()
	for id := range h.workers {
		if !current[id] {
			delete(h.workers, id)
			h.logger.Info("worker removed from health monitoring", "worker", id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkWorker(w cluster.WorkerInfo) {
	h.mu.Lock()
	health, exists := h.workers[w.ID]
	if !exists {
		now := time.Now()
		health = &WorkerHealth{WorkerID: w.ID, Status: StatusUnknown, LastCheck: now, LastHealthy: now}
		h.workers[w.ID] = health
	}
	check := h.checkFunc
	h.mu.Unlock()

	// The probe runs without the lock held.
	err := check(w.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	if err != nil {
		health.ConsecutiveFails++
		h.logger.Warn("health check failed",
			"worker", w.ID, "attempt", health.ConsecutiveFails, "max", h.maxFailures, "error", err)

		if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			h.logger.Error("worker marked unhealthy", "worker", w.ID, "failures", health.ConsecutiveFails)
			if h.onUnhealthy != nil {
				go h.onUnhealthy(w.ID)
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		h.logger.Info("worker recovered", "worker", w.ID)
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// defaultHealthCheck GETs addr/health and expects 200.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetWorkerHealth returns a copy of the worker's health record, or nil when
// the worker is not monitored.
func (h *HealthMonitor) GetWorkerHealth(workerID string) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.workers[workerID]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllWorkerHealth returns copies of every health record keyed by worker.
func (h *HealthMonitor) GetAllWorkerHealth() map[string]*WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*WorkerHealth, len(h.workers))
	for id, health := range h.workers {
		cp := *health
		result[id] = &cp
	}
	return result
}

// IsHealthy reports whether the worker is monitored and healthy.
func (h *HealthMonitor) IsHealthy(workerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.workers[workerID]
	return exists && health.Status == StatusHealthy
}
