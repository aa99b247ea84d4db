package realtime

import "sync/atomic"

// Metrics are plain atomic counters exposed through the stats endpoint.
type Metrics struct {
	ActiveConnections int64
	TotalConnections  int64
	MessagesReceived  int64
	MessagesSent      int64
	EventsDispatched  int64
	BroadcastsSent    int64
	DroppedSends      int64
	RateLimited       int64
	Errors            int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) ConnectionOpened() {
	atomic.AddInt64(&m.ActiveConnections, 1)
	atomic.AddInt64(&m.TotalConnections, 1)
}

func (m *Metrics) ConnectionClosed() {
	atomic.AddInt64(&m.ActiveConnections, -1)
}

func (m *Metrics) MessageReceived() { atomic.AddInt64(&m.MessagesReceived, 1) }
func (m *Metrics) MessageSent()     { atomic.AddInt64(&m.MessagesSent, 1) }
func (m *Metrics) EventDispatched() { atomic.AddInt64(&m.EventsDispatched, 1) }
func (m *Metrics) BroadcastSent()   { atomic.AddInt64(&m.BroadcastsSent, 1) }
func (m *Metrics) SendDropped()     { atomic.AddInt64(&m.DroppedSends, 1) }
func (m *Metrics) Limited()         { atomic.AddInt64(&m.RateLimited, 1) }
func (m *Metrics) Error()           { atomic.AddInt64(&m.Errors, 1) }

// Snapshot returns a consistent-enough copy for reporting.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"activeConnections": atomic.LoadInt64(&m.ActiveConnections),
		"totalConnections":  atomic.LoadInt64(&m.TotalConnections),
		"messagesReceived":  atomic.LoadInt64(&m.MessagesReceived),
		"messagesSent":      atomic.LoadInt64(&m.MessagesSent),
		"eventsDispatched":  atomic.LoadInt64(&m.EventsDispatched),
		"broadcastsSent":    atomic.LoadInt64(&m.BroadcastsSent),
		"droppedSends":      atomic.LoadInt64(&m.DroppedSends),
		"rateLimited":       atomic.LoadInt64(&m.RateLimited),
		"errors":            atomic.LoadInt64(&m.Errors),
	}
}
