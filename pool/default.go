package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/tomyedwab/nativedb/client"
	"github.com/tomyedwab/nativedb/native"
)

var (
	// ErrPoolExists is returned by Create when the default pool is already set up.
	ErrPoolExists = errors.New("pool: default pool already exists")
	// ErrNoPool is returned by Get and Destroy before Create.
	ErrNoPool = errors.New("pool: default pool has not been created")
)

var (
	defaultMu   sync.Mutex
	defaultPool *Pool
)

// Create sets up the process-wide default pool.
func Create(ctx context.Context, c *client.Client, db native.ConnectOptions, opts Options) (*Pool, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool != nil {
		return nil, ErrPoolExists
	}
	p, err := New(ctx, c, db, opts)
	if err != nil {
		return nil, err
	}
	defaultPool = p
	return p, nil
}

// Get returns the default pool.
func Get() (*Pool, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool == nil {
		return nil, ErrNoPool
	}
	return defaultPool, nil
}

// Destroy tears down the default pool. A new one can be created afterwards.
func Destroy(ctx context.Context) error {
	defaultMu.Lock()
	p := defaultPool
	defaultPool = nil
	defaultMu.Unlock()
	if p == nil {
		return ErrNoPool
	}
	return p.Destroy(ctx)
}
