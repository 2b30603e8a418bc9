package services

import (
	"context"
	"sync"

	"github.com/modulab/foreman/internal/foreman"
)

// fakeGateway records outbound messages and serves configurable session
// counts.
type fakeGateway struct {
	mu       sync.Mutex
	sent     []sentMessage
	counts   map[int]int
	sendErr  error
	closeErr error
	closed   []int
}

type sentMessage struct {
	moduleID int
	message  any
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{counts: make(map[int]int)}
}

func (g *fakeGateway) SendToModule(ctx context.Context, moduleID int, message any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, sentMessage{moduleID: moduleID, message: message})
	return nil
}

func (g *fakeGateway) CloseModule(ctx context.Context, moduleID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closeErr != nil {
		return g.closeErr
	}
	g.closed = append(g.closed, moduleID)
	return nil
}

func (g *fakeGateway) SessionCount(moduleID int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[moduleID]
}

func (g *fakeGateway) sentMessages() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

// fakeNotifier captures every notification.
type fakeNotifier struct {
	mu     sync.Mutex
	events []foreman.Notification
	err    error
}

func (n *fakeNotifier) Notify(ctx context.Context, event foreman.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) captured() []foreman.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]foreman.Notification(nil), n.events...)
}
