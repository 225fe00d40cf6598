// Package telemetry ships log events to the ingest gateway without ever
// blocking the caller. Events that do not fit the buffer are dropped.
package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
)

const (
	defaultBatchSize = 200
	defaultMaxQueue  = 10000
	defaultInterval  = time.Second
	shipTimeout      = 5 * time.Second
)

// Pipe buffers log events and ships them in batches from a single
// goroutine. Delivery is best effort: no retries, and the pipe never
// logs its own failures (that would feed back into itself).
type Pipe struct {
	ingestURL string
	batchSize int
	interval  time.Duration
	client    *http.Client

	ch   chan domain.LogEvent
	done chan struct{}

	mu      sync.RWMutex
	running bool
}

// Option adjusts pipe construction.
type Option func(*Pipe)

// WithBatchSize overrides the flush batch size.
func WithBatchSize(n int) Option {
	return func(p *Pipe) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMaxQueue overrides the buffer capacity.
func WithMaxQueue(n int) Option {
	return func(p *Pipe) {
		if n > 0 {
			p.ch = make(chan domain.LogEvent, n)
		}
	}
}

// WithFlushInterval overrides the periodic flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(p *Pipe) {
		if d > 0 {
			p.interval = d
		}
	}
}

// NewPipe creates a pipe shipping to ingestURL and starts its shipper.
func NewPipe(ingestURL string, opts ...Option) *Pipe {
	p := &Pipe{
		ingestURL: ingestURL,
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
		client:    &http.Client{Timeout: shipTimeout},
		ch:        make(chan domain.LogEvent, defaultMaxQueue),
		done:      make(chan struct{}),
		running:   true,
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.ship()
	return p
}

// Enqueue offers an event to the pipe. Returns false when the buffer is
// full or the pipe is stopped; the event is dropped either way.
func (p *Pipe) Enqueue(ev domain.LogEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return false
	}
	select {
	case p.ch <- ev:
		return true
	default:
		return false
	}
}

// Stop shuts the pipe down: no new events are accepted, everything
// already buffered is shipped, then the shipper exits.
func (p *Pipe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.ch)
	p.mu.Unlock()

	<-p.done
}

func (p *Pipe) ship() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	batch := make([]domain.LogEvent, 0, p.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.post(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-p.ch:
			if !ok {
				// Closed channel delivers all buffered events
				// before reporting !ok, so nothing is lost here.
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= p.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (p *Pipe) post(batch []domain.LogEvent) {
	body, err := json.Marshal(batch)
	if err != nil {
		return
	}
	resp, err := p.client.Post(p.ingestURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
