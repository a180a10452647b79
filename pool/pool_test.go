package pool

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tomyedwab/nativedb/client"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
	"github.com/tomyedwab/nativedb/native/nativetest"
)

var testDB = native.ConnectOptions{Path: "pool.fdb", Username: "SYSDBA"}

func setupTestPool(t *testing.T, opts Options) (*Pool, *nativetest.MockClient, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	mock := nativetest.NewMockClient()
	opts.Logger = logger
	p, err := New(context.Background(), client.New(mock, client.WithLogger(logger)), testDB, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		_ = p.Destroy(context.Background())
	})
	return p, mock, &logs
}

func borrow(t *testing.T, p *Pool) *Conn {
	t.Helper()
	conn, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	return conn
}

func TestBorrowWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	p, mock, _ := setupTestPool(t, Options{Max: 1})

	first := borrow(t, p)
	att := first.Attachment()

	type result struct {
		conn *Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := p.Borrow(ctx)
		done <- result{conn, err}
	}()

	select {
	case <-done:
		t.Fatal("second borrower was served while the only connection was borrowed")
	case <-time.After(50 * time.Millisecond):
	}

	if err := first.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	var second result
	select {
	case second = <-done:
	case <-time.After(time.Second):
		t.Fatal("second borrower was not served after release")
	}
	if second.err != nil {
		t.Fatalf("second Borrow failed: %v", second.err)
	}
	if second.conn.Attachment() != att {
		t.Error("second borrower got a different attachment")
	}
	if n := mock.Calls("Attach"); n != 1 {
		t.Errorf("Attach called %d times, want 1", n)
	}
	if n := mock.Calls("Detach"); n != 0 {
		t.Errorf("Detach called %d times, want 0", n)
	}

	if _, err := first.Execute(ctx, nil, "SELECT 1 FROM rdb$database", nil); !dberrors.IsAlreadyDisposed(err) {
		t.Errorf("stale proxy Execute: expected AlreadyDisposed, got %v", err)
	}
	if err := first.Disconnect(ctx); !dberrors.IsAlreadyDisposed(err) {
		t.Errorf("stale proxy Disconnect: expected AlreadyDisposed, got %v", err)
	}
	if first.IsValid() || !second.conn.IsValid() {
		t.Error("validity does not follow the current borrower")
	}
}

func TestPooledLifecycleCallsAreRejected(t *testing.T) {
	ctx := context.Background()
	p, mock, _ := setupTestPool(t, Options{})
	conn := borrow(t, p)

	checks := map[string]error{
		"Connect":        conn.Connect(ctx, testDB),
		"CreateDatabase": conn.CreateDatabase(ctx, testDB),
		"DropDatabase":   conn.DropDatabase(ctx),
	}
	for call, err := range checks {
		if !dberrors.Is(err, dberrors.ErrorTypeInvalidForPooledConnection) {
			t.Errorf("%s: expected InvalidForPooledConnection, got %v", call, err)
		}
	}
	if mock.Calls("DropDatabase") != 0 || mock.Calls("CreateDatabase") != 0 {
		t.Error("a rejected call reached the engine")
	}
	if !conn.IsValid() {
		t.Error("rejected call invalidated the connection")
	}
}

func TestReleaseRollsBackLeakedWork(t *testing.T) {
	ctx := context.Background()
	p, mock, logs := setupTestPool(t, Options{})
	conn := borrow(t, p)

	tr, err := conn.StartTransaction(ctx, client.TransactionOptions{})
	if err != nil {
		t.Fatalf("StartTransaction failed: %v", err)
	}
	if _, err := conn.Prepare(ctx, tr, "SELECT 1 FROM rdb$database"); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if err := conn.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if tr.IsValid() {
		t.Error("leaked transaction is still open")
	}
	if mock.OpenTransactions() != 0 || mock.OpenStatements() != 0 {
		t.Errorf("engine still holds %d transactions and %d statements",
			mock.OpenTransactions(), mock.OpenStatements())
	}
	if mock.OpenAttachments() != 1 {
		t.Error("release closed the pooled attachment")
	}
	if !strings.Contains(logs.String(), "Closing resources left open") {
		t.Errorf("expected a leak warning, got logs:\n%s", logs.String())
	}
	if s := p.Stats(); s.Idle != 1 || s.Borrowed != 0 {
		t.Errorf("stats after release = %+v", s)
	}
}

func TestAcquireTimeout(t *testing.T) {
	p, _, _ := setupTestPool(t, Options{Max: 1, AcquireTimeout: 20 * time.Millisecond})
	borrow(t, p)

	start := time.Now()
	_, err := p.Borrow(context.Background())
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Borrow gave up after %s", elapsed)
	}
}

func TestBorrowHonorsContext(t *testing.T) {
	p, _, _ := setupTestPool(t, Options{Max: 1})
	borrow(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Borrow(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTestOnBorrowReplacesDeadConnection(t *testing.T) {
	ctx := context.Background()
	p, mock, _ := setupTestPool(t, Options{TestOnBorrow: true})

	conn := borrow(t, p)
	dead := conn.Attachment()
	if err := conn.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	mock.SetMockError("Ping", native.NewStatus(native.StatusUnavailable, "connection lost"))
	conn = borrow(t, p)
	if conn.Attachment() == dead {
		t.Fatal("pool lent a connection that failed its ping")
	}
	if dead.IsValid() {
		t.Error("evicted attachment was not closed")
	}
	if n := mock.Calls("Attach"); n != 2 {
		t.Errorf("Attach called %d times, want 2", n)
	}
	if s := p.Stats(); s.Total != 1 || s.Borrowed != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestReuseOrder(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name  string
		order Order
		want  int
	}{
		{"fifo", FIFO, 0},
		{"lifo", LIFO, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, _, _ := setupTestPool(t, Options{Max: 2, Order: tc.order})
			conns := []*Conn{borrow(t, p), borrow(t, p)}
			atts := []*client.Attachment{conns[0].Attachment(), conns[1].Attachment()}
			for _, conn := range conns {
				if err := conn.Disconnect(ctx); err != nil {
					t.Fatalf("Disconnect failed: %v", err)
				}
			}
			if got := borrow(t, p).Attachment(); got != atts[tc.want] {
				t.Errorf("borrowed %s, want %s", got.ID(), atts[tc.want].ID())
			}
		})
	}
}

func TestIdleConnectionsAreReaped(t *testing.T) {
	ctx := context.Background()
	p, mock, _ := setupTestPool(t, Options{Min: 1, IdleTimeout: 10 * time.Millisecond, ReapInterval: 5 * time.Millisecond})

	if s := p.Stats(); s.Idle != 1 {
		t.Fatalf("pool did not warm up: %+v", s)
	}
	a, b := borrow(t, p), borrow(t, p)
	if err := a.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := b.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for p.Stats().Total != 1 || mock.OpenAttachments() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("idle connections were not reaped: %+v, engine holds %d", p.Stats(), mock.OpenAttachments())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	p, mock, _ := setupTestPool(t, Options{Max: 1})

	conn := borrow(t, p)
	waiter := make(chan error, 1)
	go func() {
		_, err := p.Borrow(ctx)
		waiter <- err
	}()

	if err := p.Destroy(ctx); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	select {
	case err := <-waiter:
		if !dberrors.IsAlreadyDisposed(err) {
			t.Errorf("pending borrower: expected AlreadyDisposed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending borrower was not failed by Destroy")
	}

	// The borrowed connection outlives the pool until its borrower lets go.
	if mock.OpenAttachments() != 1 {
		t.Fatal("Destroy closed a borrowed connection")
	}
	if err := conn.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect after Destroy failed: %v", err)
	}
	if mock.OpenAttachments() != 0 {
		t.Error("borrowed connection was not closed on release")
	}

	if _, err := p.Borrow(ctx); !dberrors.IsAlreadyDisposed(err) {
		t.Errorf("Borrow after Destroy: expected AlreadyDisposed, got %v", err)
	}
	if err := p.Destroy(ctx); !dberrors.IsAlreadyDisposed(err) {
		t.Errorf("second Destroy: expected AlreadyDisposed, got %v", err)
	}
}

func TestDefaultPool(t *testing.T) {
	ctx := context.Background()
	c := client.New(nativetest.NewMockClient())

	if _, err := Get(); !errors.Is(err, ErrNoPool) {
		t.Fatalf("Get before Create: expected ErrNoPool, got %v", err)
	}
	if err := Destroy(ctx); !errors.Is(err, ErrNoPool) {
		t.Fatalf("Destroy before Create: expected ErrNoPool, got %v", err)
	}

	p, err := Create(ctx, c, testDB, Options{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := Create(ctx, c, testDB, Options{}); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("second Create: expected ErrPoolExists, got %v", err)
	}
	got, err := Get()
	if err != nil || got != p {
		t.Fatalf("Get = %p, %v; want %p", got, err, p)
	}

	if err := Destroy(ctx); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := Get(); !errors.Is(err, ErrNoPool) {
		t.Fatalf("Get after Destroy: expected ErrNoPool, got %v", err)
	}
}
