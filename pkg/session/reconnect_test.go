package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// countingDialer fails the first failures dials, then succeeds with fresh
// fake transports.
type countingDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	last     *fakeTransport
}

func (d *countingDialer) dial(context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("relay unreachable")
	}
	d.last = &fakeTransport{}
	return d.last, nil
}

func TestReconnectorInitialConnect(t *testing.T) {
	t.Parallel()

	d := &countingDialer{}
	r := NewReconnector(ReconnectorConfig{Dial: d.dial})

	tr, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if tr == nil || r.Transport() != tr {
		t.Error("Transport() does not return the dialed transport")
	}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestReconnectorInitialConnectError(t *testing.T) {
	t.Parallel()

	d := &countingDialer{failures: 1}
	r := NewReconnector(ReconnectorConfig{Dial: d.dial})

	if _, err := r.Connect(context.Background()); err == nil {
		t.Fatal("Connect() error = nil, want dial failure")
	}
	if r.Transport() != nil {
		t.Error("Transport() non-nil after failed dial")
	}
}

func TestReconnectorRedialsAfterDisconnect(t *testing.T) {
	t.Parallel()

	d := &countingDialer{failures: 2} // initial dial + first redial fail
	r := NewReconnector(ReconnectorConfig{
		Dial:       d.dial,
		MaxRetries: 5,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	})

	reconnected := make(chan Transport, 1)
	r.onReconnect = func(tr Transport) { reconnected <- tr }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Monitor(ctx)
	defer r.Stop()

	r.NotifyDisconnect()

	select {
	case tr := <-reconnected:
		if tr != r.Transport() {
			t.Error("OnReconnect transport differs from Transport()")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reconnection")
	}

	d.mu.Lock()
	dials := d.dials
	d.mu.Unlock()
	if dials != 3 {
		t.Errorf("dials = %d, want 3 (two failures then success)", dials)
	}
}

func TestReconnectorReplacesAndClosesOldTransport(t *testing.T) {
	t.Parallel()

	d := &countingDialer{}
	r := NewReconnector(ReconnectorConfig{
		Dial:    d.dial,
		Backoff: time.Millisecond,
	})

	first, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	reconnected := make(chan Transport, 1)
	r.onReconnect = func(tr Transport) { reconnected <- tr }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Monitor(ctx)
	defer r.Stop()

	r.NotifyDisconnect()

	select {
	case tr := <-reconnected:
		if tr == first {
			t.Error("redial returned the old transport")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reconnection")
	}

	old := first.(*fakeTransport)
	old.mu.Lock()
	closes := old.closes
	old.mu.Unlock()
	if closes != 1 {
		t.Errorf("old transport closes = %d, want 1", closes)
	}
}

func TestReconnectorStopIdempotent(t *testing.T) {
	t.Parallel()

	d := &countingDialer{}
	r := NewReconnector(ReconnectorConfig{Dial: d.dial})
	if _, err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := r.Stop(); err != nil {
		t.Errorf("first Stop() error = %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if r.Transport() != nil {
		t.Error("Transport() non-nil after Stop")
	}
}
