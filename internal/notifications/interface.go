package notifications

import (
	"errors"
	"sync"
)

// Alert levels
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelCritical = "critical"
)

// Notifier defines the interface for notification services
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(level, message string) error
}

// Nop drops every alert
type Nop struct{}

// SendAlert implements Notifier
func (Nop) SendAlert(string, string) error { return nil }

// Multi fans an alert out to every notifier and joins their errors
type Multi []Notifier

// SendAlert implements Notifier
func (m Multi) SendAlert(level, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.SendAlert(level, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Alert is one recorded alert
type Alert struct {
	Level   string
	Message string
}

// Recorder keeps alerts in memory; used by dry runs and tests
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

// SendAlert implements Notifier
func (r *Recorder) SendAlert(level, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Alert{Level: level, Message: message})
	return nil
}

// Alerts returns the recorded alerts in order
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Levels returns the level of every recorded alert
func (r *Recorder) Levels() []string {
	alerts := r.Alerts()
	levels := make([]string, len(alerts))
	for i, a := range alerts {
		levels[i] = a.Level
	}
	return levels
}
