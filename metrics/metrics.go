// Package metrics records client command metrics. Metrics implements
// mailcore.Observer and can be passed to both the IMAP and the SMTP client.
package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/auth"
	"github.com/meszmate/mailcore/smtp"
)

// Result labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultAuth     = "auth"
	ResultTimeout  = "timeout"
	ResultClosed   = "closed"
	ResultError    = "error"
)

// Metrics tracks command metrics in memory and, once registered, exports
// them to Prometheus.
type Metrics struct {
	// CommandsTotal is the total number of commands observed.
	CommandsTotal atomic.Int64
	// CommandErrors is the number of commands that failed.
	CommandErrors atomic.Int64

	mu              sync.RWMutex
	commandCounts   map[string]*atomic.Int64
	commandDuration map[string]*atomic.Int64 // nanoseconds total

	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
}

// New creates a Metrics instance. Call Register to export it.
func New() *Metrics {
	return &Metrics{
		commandCounts:   make(map[string]*atomic.Int64),
		commandDuration: make(map[string]*atomic.Int64),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailcore_command_duration_seconds",
				Help:    "Mail client command duration in seconds, by protocol, command and result.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 30},
			},
			[]string{"protocol", "cmd", "result"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcore_token_refresh_total",
				Help: "Bearer token refreshes, by result.",
			},
			[]string{"result"},
		),
	}
}

// Register registers the collectors with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	if err := r.Register(m.duration); err != nil {
		return err
	}
	return r.Register(m.tokens)
}

// ObserveCommand implements mailcore.Observer.
func (m *Metrics) ObserveCommand(protocol, command string, d time.Duration, err error) {
	m.CommandsTotal.Add(1)
	key := protocol + " " + command
	m.counter(m.commandCounts, key).Add(1)
	m.counter(m.commandDuration, key).Add(int64(d))
	if err != nil {
		m.CommandErrors.Add(1)
	}
	m.duration.WithLabelValues(protocol, command, Result(err)).Observe(d.Seconds())
}

// CommandCount returns how often protocol/command was observed.
func (m *Metrics) CommandCount(protocol, command string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.commandCounts[protocol+" "+command]; ok {
		return c.Load()
	}
	return 0
}

// CommandDuration returns the total time spent in protocol/command.
func (m *Metrics) CommandDuration(protocol, command string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.commandDuration[protocol+" "+command]; ok {
		return time.Duration(d.Load())
	}
	return 0
}

func (m *Metrics) counter(set map[string]*atomic.Int64, key string) *atomic.Int64 {
	m.mu.RLock()
	c, ok := set[key]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = set[key]; ok {
		return c
	}
	c = &atomic.Int64{}
	set[key] = c
	return c
}

// Result classifies a command error into a result label.
func Result(err error) string {
	var (
		ce *mailcore.CommandError
		re *smtp.ReplyError
	)
	switch {
	case err == nil:
		return ResultOK
	case mailcore.IsTimeout(err):
		return ResultTimeout
	case errors.Is(err, mailcore.ErrClosed):
		return ResultClosed
	case auth.IsAuthFailure(err):
		return ResultAuth
	case errors.As(err, &ce), errors.As(err, &re):
		return ResultRejected
	}
	return ResultError
}

// TokenProvider wraps a provider and counts its forced refreshes.
func (m *Metrics) TokenProvider(p mailcore.TokenProvider) mailcore.TokenProvider {
	return &countingProvider{TokenProvider: p, m: m}
}

type countingProvider struct {
	mailcore.TokenProvider
	m *Metrics
}

func (p *countingProvider) RefreshAccessToken(ctx context.Context) (*mailcore.Token, error) {
	tok, err := p.TokenProvider.RefreshAccessToken(ctx)
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	p.m.tokens.WithLabelValues(result).Inc()
	return tok, err
}
