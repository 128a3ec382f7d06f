package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

const maxHealthErrors = 10

type HealthChecker struct {
	mu          sync.RWMutex
	staleAfter  time.Duration
	lastCycle   time.Time
	venue       string
	isConnected bool
	halted      bool
	errors      []string
	now         func() time.Time
}

type HealthStatus struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	LastCycle     time.Time `json:"last_cycle"`
	Venue         string    `json:"venue"`
	IsConnected   bool      `json:"is_connected"`
	TradingHalted bool      `json:"trading_halted"`
	Uptime        string    `json:"uptime"`
	Errors        []string  `json:"errors,omitempty"`
}

// NewHealthChecker reports degraded when no cycle completed within staleAfter
func NewHealthChecker(staleAfter time.Duration) *HealthChecker {
	return &HealthChecker{
		staleAfter: staleAfter,
		errors:     make([]string, 0),
		now:        time.Now,
	}
}

// RecordCycle marks a completed cycle and clears the error list
func (h *HealthChecker) RecordCycle(venue string, connected, halted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCycle = h.now()
	h.venue = venue
	h.isConnected = connected
	h.halted = halted
	h.errors = h.errors[:0]
}

// RecordError keeps the most recent errors of the current cycle
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > maxHealthErrors {
		h.errors = h.errors[len(h.errors)-maxHealthErrors:]
	}
}

// Status computes the current health
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.isConnected || (h.staleAfter > 0 && h.now().Sub(h.lastCycle) > h.staleAfter) {
		status = "degraded"
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
	}

	errs := make([]string, len(h.errors))
	copy(errs, h.errors)
	return HealthStatus{
		Status:        status,
		Timestamp:     h.now(),
		LastCycle:     h.lastCycle,
		Venue:         h.venue,
		IsConnected:   h.isConnected,
		TradingHalted: h.halted,
		Uptime:        time.Since(startTime).String(),
		Errors:        errs,
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Status()

	w.Header().Set("Content-Type", "application/json")
	switch health.Status {
	case "degraded":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "unhealthy":
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(health)
}
