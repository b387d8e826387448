package broker

import (
	"context"
	"sync"
)

var _ Broker = &LocalBroker{}

// LocalBroker delivers invalidations within the process. It backs single-replica deployments.
type LocalBroker struct {
	mu          sync.Mutex
	subscribers map[chan string]struct{}
	closed      bool
}

// NewLocalBroker returns an empty LocalBroker
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{
		subscribers: make(map[chan string]struct{}),
	}
}

// SendInvalidation delivers userID to every current receiver. Messages go through the codec like they would on the wire.
func (l *LocalBroker) SendInvalidation(ctx context.Context, userID string) error {
	body, err := encodeInvalidation(userID)
	if err != nil {
		return err
	}
	decoded, err := decodeInvalidation(body)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subscribers {
		select {
		case ch <- decoded:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ReceiveInvalidation registers a receiver until ctx is done
func (l *LocalBroker) ReceiveInvalidation(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 64)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		close(ch)
		return ch, nil
	}
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.remove(ch)
	}()
	return ch, nil
}

func (l *LocalBroker) remove(ch chan string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subscribers[ch]; ok {
		delete(l.subscribers, ch)
		close(ch)
	}
}

// Close stops every receiver
func (l *LocalBroker) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for ch := range l.subscribers {
		delete(l.subscribers, ch)
		close(ch)
	}
}
