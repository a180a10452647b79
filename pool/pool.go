// Package pool keeps a bounded set of attachments to one database and lends
// them out as Conn proxies.
//
// A borrower holds one of Max permits for as long as its proxy is borrowed.
// Waiters are served in arrival order. Releasing a proxy rolls back anything
// the borrower left open and puts the attachment back for the next borrower.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tomyedwab/nativedb/client"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
)

const (
	defaultMax          = 10
	defaultReapInterval = time.Second
)

// ErrAcquireTimeout is returned by Borrow when no connection became free
// within Options.AcquireTimeout.
var ErrAcquireTimeout = errors.New("pool: timed out waiting for a connection")

// Order selects which idle connection a borrower receives.
type Order int

const (
	// FIFO lends the connection that has been idle the longest.
	FIFO Order = iota
	// LIFO lends the most recently released connection.
	LIFO
)

// Options configures a Pool.
type Options struct {
	Max            int           // Optional, defaults to 10
	Min            int           // Connections kept open while idle, defaults to 0
	AcquireTimeout time.Duration // Optional, zero waits for the borrow context only
	IdleTimeout    time.Duration // Optional, zero keeps idle connections forever
	ReapInterval   time.Duration // Optional, defaults to 1s
	TestOnBorrow   bool          // Ping idle connections before lending them
	Order          Order         // Optional, defaults to FIFO
	Logger         *slog.Logger  // Optional, defaults to slog.Default()
}

// slot is one real attachment owned by the pool. proxy is the borrower's
// handle and is nil while the slot is idle.
type slot struct {
	att       *client.Attachment
	proxy     *Conn
	idleSince time.Time
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Total    int
	Idle     int
	Borrowed int
}

// Pool lends attachments to one database.
type Pool struct {
	client *client.Client
	db     native.ConnectOptions
	opts   Options
	logger *slog.Logger

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	slots     map[*slot]struct{}
	idle      []*slot
	destroyed bool
	creating  sync.WaitGroup

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// New creates a pool and opens Min connections before returning.
func New(ctx context.Context, c *client.Client, db native.ConnectOptions, opts Options) (*Pool, error) {
	if c == nil {
		return nil, dberrors.New(dberrors.ErrorTypeNeedConnection, "pool needs a client")
	}
	if opts.Max <= 0 {
		opts.Max = defaultMax
	}
	if opts.Min < 0 || opts.Min > opts.Max {
		return nil, fmt.Errorf("pool: min %d must be between 0 and max %d", opts.Min, opts.Max)
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = defaultReapInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	poolCtx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		client:     c,
		db:         db,
		opts:       opts,
		logger:     logger.With("component", "pool", "database", db.URI()),
		sem:        semaphore.NewWeighted(int64(opts.Max)),
		ctx:        poolCtx,
		cancel:     cancel,
		slots:      make(map[*slot]struct{}),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	if err := p.fill(ctx, opts.Min); err != nil {
		close(p.reaperDone)
		if destroyErr := p.Destroy(ctx); destroyErr != nil {
			p.logger.Warn("Failed to close connections after warm-up error", "error", destroyErr)
		}
		return nil, err
	}

	if opts.IdleTimeout > 0 || opts.Min > 0 {
		go p.reap()
	} else {
		close(p.reaperDone)
	}

	p.logger.Info("Pool created", "max", opts.Max, "min", opts.Min)
	return p, nil
}

// Stats reports how many connections the pool holds.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:    len(p.slots),
		Idle:     len(p.idle),
		Borrowed: len(p.slots) - len(p.idle),
	}
}

// Borrow waits for a free connection and lends it out. The wait is bounded by
// ctx, by Options.AcquireTimeout and by Destroy.
func (p *Pool) Borrow(ctx context.Context) (*Conn, error) {
	if p.isDestroyed() {
		return nil, dberrors.AlreadyDisposed("pool")
	}

	waitCtx := ctx
	if p.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.AcquireTimeout)
		defer cancel()
	}
	waitCtx, cancelWait := context.WithCancel(waitCtx)
	defer cancelWait()
	stop := context.AfterFunc(p.ctx, cancelWait)
	defer stop()

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		switch {
		case p.ctx.Err() != nil:
			return nil, dberrors.AlreadyDisposed("pool")
		case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, p.opts.AcquireTimeout)
		}
		return nil, err
	}

	conn, err := p.lend(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return conn, nil
}

// lend hands out an idle slot that passes validation, or opens a new one.
// The caller holds a permit.
func (p *Pool) lend(ctx context.Context) (*Conn, error) {
	for {
		s, err := p.takeIdle()
		if err != nil {
			return nil, err
		}
		if s == nil {
			break
		}
		if p.validate(ctx, s) {
			return s.proxy, nil
		}
		p.evict(ctx, s, "failed validation")
	}

	s, err := p.open(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.proxy, nil
}

func (p *Pool) takeIdle() (*slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, dberrors.AlreadyDisposed("pool")
	}
	if len(p.idle) == 0 {
		return nil, nil
	}
	var s *slot
	if p.opts.Order == LIFO {
		s = p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
	} else {
		s = p.idle[0]
		p.idle = p.idle[1:]
	}
	s.proxy = &Conn{pool: p, slot: s}
	return s, nil
}

func (p *Pool) validate(ctx context.Context, s *slot) bool {
	if !s.att.IsValid() {
		return false
	}
	if !p.opts.TestOnBorrow {
		return true
	}
	if err := s.att.Ping(ctx); err != nil {
		p.logger.Warn("Pooled connection failed ping", "attachmentID", s.att.ID(), "error", err)
		return false
	}
	return true
}

// open creates a new slot. A borrowed slot is returned with its proxy set;
// otherwise the slot joins the idle list.
func (p *Pool) open(ctx context.Context, borrowed bool) (*slot, error) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, dberrors.AlreadyDisposed("pool")
	}
	p.creating.Add(1)
	p.mu.Unlock()
	defer p.creating.Done()

	att, err := p.client.Connect(ctx, p.db)
	if err != nil {
		return nil, err
	}

	s := &slot{att: att}
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		if err := att.Disconnect(ctx); err != nil {
			p.logger.Warn("Failed to close connection opened during destroy", "error", err)
		}
		return nil, dberrors.AlreadyDisposed("pool")
	}
	p.slots[s] = struct{}{}
	if borrowed {
		s.proxy = &Conn{pool: p, slot: s}
	} else {
		s.idleSince = time.Now()
		p.idle = append(p.idle, s)
	}
	p.mu.Unlock()

	p.logger.Debug("Opened pooled connection", "attachmentID", att.ID())
	return s, nil
}

// fill opens n idle connections concurrently.
func (p *Pool) fill(ctx context.Context, n int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := p.open(gctx, false)
			return err
		})
	}
	return g.Wait()
}

// evict removes s from the pool and closes its attachment.
func (p *Pool) evict(ctx context.Context, s *slot, reason string) {
	p.mu.Lock()
	delete(p.slots, s)
	s.proxy = nil
	p.mu.Unlock()

	p.logger.Info("Evicting pooled connection", "attachmentID", s.att.ID(), "reason", reason)
	if !s.att.IsValid() {
		return
	}
	if err := s.att.Disconnect(ctx); err != nil {
		p.logger.Warn("Failed to close evicted connection", "error", err)
	}
}

// release returns the slot behind c to the idle list, or closes it when the
// pool no longer owns it.
func (p *Pool) release(ctx context.Context, c *Conn) error {
	s := c.slot
	p.mu.Lock()
	if s.proxy != c {
		p.mu.Unlock()
		return dberrors.AlreadyDisposed("pooled connection")
	}
	s.proxy = nil
	_, owned := p.slots[s]
	p.mu.Unlock()
	defer p.sem.Release(1)

	if !owned {
		if !s.att.IsValid() {
			return nil
		}
		return s.att.Disconnect(ctx)
	}

	if err := s.att.Reset(ctx); err != nil {
		p.evict(ctx, s, "reset failed")
		return nil
	}

	p.mu.Lock()
	if _, owned = p.slots[s]; owned && !p.destroyed {
		s.idleSince = time.Now()
		p.idle = append(p.idle, s)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return s.att.Disconnect(ctx)
}

func (p *Pool) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// reap closes connections idle for longer than IdleTimeout and keeps Min
// connections open.
func (p *Pool) reap() {
	defer close(p.reaperDone)
	ticker := time.NewTicker(p.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopReaper:
			return
		case <-ticker.C:
			p.reapOnce(p.ctx)
		}
	}
}

func (p *Pool) reapOnce(ctx context.Context) {
	var expired []*slot
	p.mu.Lock()
	if p.opts.IdleTimeout > 0 {
		cutoff := time.Now().Add(-p.opts.IdleTimeout)
		kept := p.idle[:0]
		for _, s := range p.idle {
			if s.idleSince.Before(cutoff) && len(p.slots)-len(expired) > p.opts.Min {
				expired = append(expired, s)
				delete(p.slots, s)
				continue
			}
			kept = append(kept, s)
		}
		p.idle = kept
	}
	missing := p.opts.Min - len(p.slots)
	p.mu.Unlock()

	for _, s := range expired {
		p.logger.Debug("Closing idle connection", "attachmentID", s.att.ID())
		if err := s.att.Disconnect(ctx); err != nil {
			p.logger.Warn("Failed to close idle connection", "error", err)
		}
	}
	if missing > 0 {
		if err := p.fill(ctx, missing); err != nil && !p.isDestroyed() {
			p.logger.Warn("Failed to open minimum connections", "error", err)
		}
	}
}

// Destroy fails pending borrowers, waits for connections being opened and
// closes every idle connection. Borrowed connections are closed when their
// borrower disconnects.
func (p *Pool) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return dberrors.AlreadyDisposed("pool")
	}
	p.destroyed = true
	p.mu.Unlock()

	p.cancel()
	p.creating.Wait()
	select {
	case <-p.reaperDone:
	default:
		close(p.stopReaper)
		<-p.reaperDone
	}

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	borrowed := len(p.slots) - len(idle)
	clear(p.slots)
	p.mu.Unlock()

	p.logger.Info("Destroying pool", "idle", len(idle), "borrowed", borrowed)

	var g errgroup.Group
	for _, s := range idle {
		g.Go(func() error {
			if !s.att.IsValid() {
				return nil
			}
			return s.att.Disconnect(ctx)
		})
	}
	return g.Wait()
}
