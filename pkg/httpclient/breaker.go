package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// Doer sends a request. Client and Breaker both satisfy it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ErrCircuitOpen is returned by Breaker.Do when the breaker sheds a call and
// no fallback is set.
var ErrCircuitOpen = gobreaker.ErrOpenState

// maxServerErrorBody caps how much of a 5xx body is kept on ServerError.
const maxServerErrorBody = 4 << 10

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	Name string

	// HalfOpenRequests is how many trial calls pass while half-open.
	HalfOpenRequests uint32

	// Window is the closed-state period after which counts reset. Zero keeps
	// counts until the next state change.
	Window time.Duration

	// OpenFor is how long the breaker rejects calls before going half-open.
	OpenFor time.Duration

	// TripRatio is the failure share, over at least MinSamples calls, that
	// opens the breaker.
	TripRatio  float64
	MinSamples uint32
}

// DefaultBreakerConfig suits a latency-sensitive call made on every request,
// such as token verification.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		HalfOpenRequests: 1,
		Window:           time.Minute,
		OpenFor:          30 * time.Second,
		TripRatio:        0.5,
		MinSamples:       5,
	}
}

func (c BreakerConfig) tripped(counts gobreaker.Counts) bool {
	if counts.Requests < c.MinSamples {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.TripRatio
}

// FallbackFunc answers in place of a call the breaker rejected.
type FallbackFunc func(ctx context.Context, err error) (*http.Response, error)

// ServerError reports a 5xx answer. Breaker turns these into errors so that
// they count against the downstream.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("downstream answered %d: %s", e.Status, e.Body)
}

var (
	breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "http_client_breaker_state",
		Help: "Breaker state per downstream: 0 closed, 1 half-open, 2 open.",
	}, []string{"name"})

	breakerRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_client_breaker_rejected_total",
		Help: "Calls the breaker refused to send, by whether a fallback answered.",
	}, []string{"name", "fallback"})
)

func init() {
	prometheus.MustRegister(breakerState, breakerRejected)
}

// Breaker sheds calls to a downstream that keeps failing. Transport errors
// and 5xx answers count as failures; 4xx answers and caller cancellation
// do not.
type Breaker struct {
	next     Doer
	cb       *gobreaker.CircuitBreaker[*http.Response]
	fallback FallbackFunc
	name     string
	logger   *slog.Logger
}

// NewBreaker wraps next with a breaker configured by cfg.
func NewBreaker(next Doer, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{next: next, name: cfg.Name, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.HalfOpenRequests,
		Interval:      cfg.Window,
		Timeout:       cfg.OpenFor,
		ReadyToTrip:   cfg.tripped,
		IsSuccessful:  func(err error) bool { return err == nil || errors.Is(err, context.Canceled) },
		OnStateChange: b.stateChanged,
	})
	breakerState.WithLabelValues(cfg.Name).Set(0)
	return b
}

// WithFallback returns a copy of b that answers rejected calls with fn.
func (b *Breaker) WithFallback(fn FallbackFunc) *Breaker {
	cpy := *b
	cpy.fallback = fn
	return &cpy
}

// State reports the breaker's current state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Do sends req unless the breaker is shedding load, in which case it returns
// the fallback's answer or ErrCircuitOpen. A 5xx answer comes back as a
// *ServerError with the body already closed.
func (b *Breaker) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := b.cb.Execute(func() (*http.Response, error) {
		return b.send(ctx, req)
	})
	if !rejected(err) {
		return resp, err
	}

	breakerRejected.WithLabelValues(b.name, fmt.Sprint(b.fallback != nil)).Inc()
	if b.fallback == nil {
		return nil, err
	}
	b.logger.WarnContext(ctx, "breaker rejected call, using fallback", slog.String("breaker", b.name))
	return b.fallback(ctx, err)
}

func (b *Breaker) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := b.next.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusInternalServerError {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxServerErrorBody))
	return nil, &ServerError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func (b *Breaker) stateChanged(name string, from, to gobreaker.State) {
	b.logger.Warn("breaker state changed",
		slog.String("breaker", name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	breakerState.WithLabelValues(name).Set(stateValue(to))
}

// rejected reports whether err means the breaker refused the call, either
// open or with its half-open quota used up.
func rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
