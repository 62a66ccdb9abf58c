package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/governed-io/governed/internal/domain/changeevent"
)

// pushClientChannel pairs a PushClient's bookkeeping with the outbound
// channel an inbound adapter (a WebSocket or SSE handler) drains.
type pushClientChannel struct {
	client changeevent.PushClient
	out    chan changeevent.PushMessage
}

// PushService fans policy change events out to connected clients by
// subscription, with a heartbeat watchdog that evicts stale
// connections — grounded on the audit worker's non-blocking-send/drop
// backpressure, adapted to a per-client channel instead of one shared
// queue.
type PushService struct {
	mu              sync.Mutex
	clients         map[string]*pushClientChannel
	heartbeatWindow time.Duration
	outboxSize      int
	logger          *slog.Logger

	unsubscribe func()
	done        chan struct{}
	wg          sync.WaitGroup
}

// NewPushService creates a push service with the given heartbeat
// staleness window (clients silent longer than this are evicted).
func NewPushService(heartbeatWindow time.Duration, logger *slog.Logger) *PushService {
	if heartbeatWindow <= 0 {
		heartbeatWindow = 60 * time.Second
	}
	return &PushService{
		clients:         make(map[string]*pushClientChannel),
		heartbeatWindow: heartbeatWindow,
		outboxSize:      32,
		logger:          logger,
		done:            make(chan struct{}),
	}
}

// Start subscribes to the change stream and begins the heartbeat
// watchdog loop.
func (p *PushService) Start(ctx context.Context, stream *ChangeStreamService) {
	p.unsubscribe = stream.Subscribe(ctx, p.onChangeEvent)
	p.wg.Add(1)
	go p.watchdog()
}

// Stop unsubscribes and stops the watchdog loop.
func (p *PushService) Stop() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	close(p.done)
	p.wg.Wait()
}

// Connect registers a new client with the given subscriptions ("*" for
// all policies) and returns the channel it should read push messages
// from.
func (p *PushService) Connect(clientID string, subscriptions []string) <-chan changeevent.PushMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	cc := &pushClientChannel{
		client: changeevent.PushClient{
			ClientID:      clientID,
			ConnectedAt:   now,
			LastHeartbeat: now,
			Subscriptions: subscriptions,
		},
		out: make(chan changeevent.PushMessage, p.outboxSize),
	}
	p.clients[clientID] = cc
	return cc.out
}

// Disconnect removes a client and closes its channel.
func (p *PushService) Disconnect(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cc, ok := p.clients[clientID]; ok {
		close(cc.out)
		delete(p.clients, clientID)
	}
}

// Heartbeat marks a client as alive.
func (p *PushService) Heartbeat(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cc, ok := p.clients[clientID]; ok {
		cc.client.LastHeartbeat = time.Now()
	}
}

// ConnectedClients returns the number of currently connected clients.
func (p *PushService) ConnectedClients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *PushService) onChangeEvent(_ context.Context, evt changeevent.Event) {
	msg := changeevent.PushMessage{Type: string(evt.Type), PolicyID: evt.PolicyID, Event: evt}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cc := range p.clients {
		if !cc.client.SubscribesTo(evt.PolicyID) {
			continue
		}
		select {
		case cc.out <- msg:
		default:
			p.logger.Warn("push client outbox full, dropping message", "client_id", cc.client.ClientID, "policy_id", evt.PolicyID)
		}
	}
}

func (p *PushService) watchdog() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.heartbeatWindow / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictStale()
		case <-p.done:
			return
		}
	}
}

func (p *PushService) evictStale() {
	cutoff := time.Now().Add(-p.heartbeatWindow)
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cc := range p.clients {
		if cc.client.LastHeartbeat.Before(cutoff) {
			close(cc.out)
			delete(p.clients, id)
			p.logger.Debug("push client evicted on stale heartbeat", "client_id", id)
		}
	}
}
