// Package alert pushes operator notifications for replication failures and
// reconciliation actions to external channels (Slack, Telegram). Delivery is
// fire-and-forget; alerting must never block an order path.
package alert

import (
	"context"
	"sync"
	"time"

	"copytrader/internal/core"
)

type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Error    Level = "ERROR"
	Critical Level = "CRITICAL"
)

// Payload is one rendered alert.
type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers alerts to one destination.
type Channel interface {
	Send(ctx context.Context, alert Payload) error
	Name() string
}

// Manager fans alerts out to every registered channel. A nil Manager is
// valid and drops everything, so callers never need a nil check.
type Manager struct {
	channels []Channel
	logger   core.ILogger
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		logger: logger.WithField("component", "alert"),
	}
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("alert channel registered", "name", ch.Name())
}

// Notify sends an alert to all channels without waiting for delivery.
func (m *Manager) Notify(ctx context.Context, level Level, title, message string, fields map[string]string) {
	if m == nil {
		return
	}
	payload := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		m.wg.Add(1)
		go func(c Channel) {
			defer m.wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := c.Send(sendCtx, payload); err != nil {
				m.logger.Error("alert delivery failed", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Flush waits for in-flight deliveries. Called on shutdown.
func (m *Manager) Flush() {
	if m == nil {
		return
	}
	m.wg.Wait()
}
