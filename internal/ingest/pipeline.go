// Package ingest turns raw probe observations into merged server records. It owns
// the bounded job queue and worker pool that sit between the intake surfaces
// (HTTP, websocket, file import) and storage.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/seeker/internal/enrich"
	"github.com/woozymasta/seeker/internal/entity"
	"github.com/woozymasta/seeker/internal/models"
)

var (
	// ErrQueueFull is returned by Submit when the job queue has no free slot.
	ErrQueueFull = errors.New("ingest queue is full")

	// ErrThrottled is returned by Submit when the same server was accepted within the soft limit window.
	ErrThrottled = errors.New("observation dropped by soft limit")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("ingest pipeline is stopped")

	// ErrInvalid marks an observation without a usable server key or response.
	ErrInvalid = errors.New("invalid observation")
)

// Observation is one probe response captured for a server.
type Observation struct {
	// Response is the raw server list ping status object.
	Response json.RawMessage `json:"response"`

	// Address is the probed host, used as the enrichment lookup key.
	Address string `json:"address"`

	// Port is the probed port.
	Port int `json:"port"`

	// SeenAt is the observation time in unix seconds; zero means "now".
	SeenAt int64 `json:"seen_at,omitempty"`
}

// Key returns the "address:port" identity of the observed server.
func (o Observation) Key() string {
	return fmt.Sprintf("%s:%d", o.Address, o.Port)
}

// Validate checks the server key and the presence of a response body.
func (o Observation) Validate() error {
	switch {
	case strings.TrimSpace(o.Address) == "":
		return fmt.Errorf("%w: address is required", ErrInvalid)
	case o.Port < 1 || o.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, o.Port)
	case len(bytes.TrimSpace(o.Response)) == 0:
		return fmt.Errorf("%w: response is required", ErrInvalid)
	}
	return nil
}

// Enricher resolves network metadata for an address. A nil result means no data.
type Enricher interface {
	Lookup(ctx context.Context, ip string) (*enrich.Result, error)
}

// Store merges a server entity into persistent storage.
type Store interface {
	Apply(ctx context.Context, s *models.Server) error
}

// Options configures the pipeline.
type Options struct {
	// Workers is the number of background workers draining the queue.
	Workers int

	// QueueSize is the capacity of the job queue.
	QueueSize int

	// EnrichTimeout bounds a single enrichment lookup.
	EnrichTimeout time.Duration

	// StoreTimeout bounds a single storage merge.
	StoreTimeout time.Duration

	// SoftLimit skips repeated observations of one server within this window; zero disables it.
	SoftLimit time.Duration
}

// Counters is a snapshot of pipeline activity since start.
type Counters struct {
	Accepted  int64 `json:"accepted"`
	Throttled int64 `json:"throttled"`
	Dropped   int64 `json:"dropped"`
	Stored    int64 `json:"stored"`
	Malformed int64 `json:"malformed"`
	Failed    int64 `json:"failed"`
}

// Pipeline validates, enriches and stores observations.
type Pipeline struct {
	store    Store
	enricher Enricher
	now      func() time.Time

	queue    chan Observation
	shutdown chan struct{}

	// seenCache tracks recently accepted server keys for the soft limit.
	seenCache sync.Map

	// mu guards stopped against concurrent Submit and Stop.
	mu      sync.RWMutex
	stopped bool

	wg   sync.WaitGroup
	opts Options

	accepted  atomic.Int64
	throttled atomic.Int64
	dropped   atomic.Int64
	stored    atomic.Int64
	malformed atomic.Int64
	failed    atomic.Int64
}

// New creates a pipeline. A nil enricher disables enrichment.
func New(store Store, enricher Enricher, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}

	return &Pipeline{
		store:    store,
		enricher: enricher,
		opts:     opts,
		now:      time.Now,
		queue:    make(chan Observation, opts.QueueSize),
		shutdown: make(chan struct{}),
	}
}

// Start launches the worker pool and the soft-limit cache cleanup routine.
func (p *Pipeline) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	if p.opts.SoftLimit > 0 {
		go p.gcSoftLimitCache()
	}
}

// Stop rejects further submissions, drains the queue and waits for the workers.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.shutdown)
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// Submit validates and queues an observation without blocking.
func (p *Pipeline) Submit(obs Observation) error {
	if err := obs.Validate(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	key := obs.Key()
	if p.opts.SoftLimit > 0 {
		if val, ok := p.seenCache.Load(key); ok {
			if lastSeen, ok := val.(time.Time); ok && p.now().Sub(lastSeen) < p.opts.SoftLimit {
				p.throttled.Add(1)
				log.Trace().Str("server", key).Msg("Dropped by soft limit hit")
				return ErrThrottled
			}
		}
	}

	select {
	case p.queue <- obs:
		if p.opts.SoftLimit > 0 {
			p.seenCache.Store(key, p.now())
		}
		p.accepted.Add(1)
		log.Trace().Str("server", key).Msg("Observation queued")
		return nil
	default:
		p.dropped.Add(1)
		log.Warn().Str("server", key).Msg("Queue full, observation dropped")
		return ErrQueueFull
	}
}

// Process runs one observation synchronously: enrichment, entity construction
// and the storage merge. Enrichment problems never fail the observation.
func (p *Pipeline) Process(ctx context.Context, obs Observation) (*models.Server, error) {
	seen := p.now()
	if obs.SeenAt > 0 {
		seen = time.Unix(obs.SeenAt, 0)
	}

	extra := p.lookup(ctx, obs.Address)

	server, err := entity.FromProbe(obs.Address, obs.Port, obs.Response, extra, seen)
	if err != nil {
		p.malformed.Add(1)
		return nil, err
	}

	storeCtx := ctx
	if p.opts.StoreTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, p.opts.StoreTimeout)
		defer cancel()
	}

	if err := p.store.Apply(storeCtx, server); err != nil {
		p.failed.Add(1)
		return nil, err
	}
	p.stored.Add(1)

	return server, nil
}

// Counters returns a snapshot of the pipeline counters.
func (p *Pipeline) Counters() Counters {
	return Counters{
		Accepted:  p.accepted.Load(),
		Throttled: p.throttled.Load(),
		Dropped:   p.dropped.Load(),
		Stored:    p.stored.Load(),
		Malformed: p.malformed.Load(),
		Failed:    p.failed.Load(),
	}
}

// QueueLen returns the number of observations waiting for a worker.
func (p *Pipeline) QueueLen() int {
	return len(p.queue)
}

func (p *Pipeline) lookup(ctx context.Context, address string) *enrich.Result {
	if p.enricher == nil {
		return nil
	}

	if p.opts.EnrichTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.EnrichTimeout)
		defer cancel()
	}

	res, err := p.enricher.Lookup(ctx, address)
	if err != nil {
		log.Debug().Err(err).Str("address", address).Msg("Enrichment failed, storing without it")
		return nil
	}

	return res
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for obs := range p.queue {
		server, err := p.Process(context.Background(), obs)
		if err != nil {
			var me *entity.MalformedError
			if errors.As(err, &me) {
				log.Debug().Err(err).Str("server", obs.Key()).Msg("Malformed observation skipped")
			} else {
				log.Error().Err(err).Str("server", obs.Key()).Msg("Failed to store observation")
			}
			continue
		}

		log.Debug().
			Str("server", obs.Key()).
			Str("type", string(server.Type)).
			Int("players", len(server.Players)).
			Int("mods", len(server.Mods)).
			Msg("Observation stored")
	}
}

// gcSoftLimitCache periodically drops expired entries from the soft limit cache.
func (p *Pipeline) gcSoftLimitCache() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdown:
			return
		case <-ticker.C:
			now := p.now()
			p.seenCache.Range(func(key, value any) bool {
				if t, ok := value.(time.Time); !ok || now.Sub(t) > p.opts.SoftLimit {
					p.seenCache.Delete(key)
				}
				return true
			})
		}
	}
}
