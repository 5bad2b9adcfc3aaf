// Package relay implements the untrusted message router: it holds no
// plaintext beyond what a single routing decision requires, knows devices
// only by id52 and commit, and forwards opaque payloads between sessions.
package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/latchnet/latch/capability"
	"github.com/latchnet/latch/identity"
	"github.com/latchnet/latch/wire"
)

// defaultCacheTTL is how long a routed response stays available for
// idempotent SEND retries after the original ACK.
const defaultCacheTTL = 5 * time.Minute

// defaultRouteTimeout bounds how long a SEND waits for the recipient's ACK
// before the sender gets SEND_ERR_TIMEOUT back.
const defaultRouteTimeout = 30 * time.Second

// deliveryQueueDepth is the outbound-delivery channel size handed to each
// registered device.
const deliveryQueueDepth = 32

// PendingDelivery is a routed message queued for a connected device. The
// preimage travels with it so the recipient's session can put it in the
// DELIVER frame, letting the recipient resolve who sent the message.
type PendingDelivery struct {
	MsgID    uint32
	Preimage capability.Preimage
	Payload  []byte
}

// SendOutcome is the result of routing one SEND.
type SendOutcome struct {
	Status  uint8
	Payload []byte
}

// RecentResponse is a cached response a reconnecting device hands back to
// the router so idempotent retries still resolve after it drops its TCP
// connection and reconnects.
type RecentResponse struct {
	Preimage capability.Preimage
	Response []byte
}

type cachedResponse struct {
	response  []byte
	expiresAt time.Time
}

type deviceEntry struct {
	commits map[capability.Commit]struct{}
	sender  chan<- PendingDelivery
}

type pendingEntry struct {
	preimage capability.Preimage
	resultCh chan []byte
}

// Router maps id52 to live sessions and arbitrates message delivery and
// idempotent-retry caching. A Router instance is self-contained and safe
// to construct in isolation for tests — it has no dependency on any
// listener or transport.
type Router struct {
	devicesMu sync.Mutex
	devices   map[identity.ID]*deviceEntry

	cacheMu sync.Mutex
	cache   map[capability.Preimage]cachedResponse

	pendingMu sync.Mutex
	pending   map[uint32]pendingEntry

	msgIDMu   sync.Mutex
	nextMsgID uint32

	cacheTTL     time.Duration
	routeTimeout time.Duration
}

// NewRouter creates an empty router with the standard cache TTL and route
// timeout.
func NewRouter() *Router {
	return newRouter(defaultCacheTTL, defaultRouteTimeout)
}

func newRouter(cacheTTL, routeTimeout time.Duration) *Router {
	return &Router{
		devices:      make(map[identity.ID]*deviceEntry),
		cache:        make(map[capability.Preimage]cachedResponse),
		pending:      make(map[uint32]pendingEntry),
		nextMsgID:    1,
		cacheTTL:     cacheTTL,
		routeTimeout: routeTimeout,
	}
}

// NewRouterForTest builds a Router with caller-supplied cache TTL and route
// timeout, so tests don't have to wait out the real 5-minute cache window or
// 30-second route timeout.
func NewRouterForTest(cacheTTL, routeTimeout time.Duration) *Router {
	return newRouter(cacheTTL, routeTimeout)
}

// Register associates id with a live outbound delivery channel and its set
// of valid commits, and preloads any recent responses the device is
// reporting from before its last reconnect.
func (r *Router) Register(id identity.ID, commits []capability.Commit, recent []RecentResponse, sender chan<- PendingDelivery) {
	r.devicesMu.Lock()
	commitSet := make(map[capability.Commit]struct{}, len(commits))
	for _, c := range commits {
		commitSet[c] = struct{}{}
	}
	r.devices[id] = &deviceEntry{commits: commitSet, sender: sender}
	r.devicesMu.Unlock()

	log.Printf("router: registered %s with %d commits", id, len(commits))

	if len(recent) > 0 {
		expiresAt := time.Now().Add(r.cacheTTL)
		r.cacheMu.Lock()
		for _, rr := range recent {
			r.cache[rr.Preimage] = cachedResponse{response: rr.Response, expiresAt: expiresAt}
		}
		r.cacheMu.Unlock()
		log.Printf("router: loaded %d recent responses into cache for %s", len(recent), id)
	}
}

// Unregister removes id from the router, e.g. when its session closes.
func (r *Router) Unregister(id identity.ID) {
	r.devicesMu.Lock()
	delete(r.devices, id)
	r.devicesMu.Unlock()
	log.Printf("router: unregistered %s", id)
}

// HandleAck completes the pending route for msgID with the recipient's
// response, caching the response under the preimage that was consumed to
// route it.
func (r *Router) HandleAck(msgID uint32, response []byte) {
	r.pendingMu.Lock()
	entry, found := r.pending[msgID]
	delete(r.pending, msgID)
	r.pendingMu.Unlock()

	if !found {
		return
	}

	r.cacheMu.Lock()
	r.cache[entry.preimage] = cachedResponse{response: response, expiresAt: time.Now().Add(r.cacheTTL)}
	r.cacheMu.Unlock()

	entry.resultCh <- response
}

// RouteMessage routes payload to toID, gated by preimage, blocking until
// the recipient ACKs, the route times out, or the recipient disconnects.
func (r *Router) RouteMessage(ctx context.Context, toID identity.ID, preimage capability.Preimage, payload []byte) SendOutcome {
	// 1. Idempotent retry: a cached response for this exact preimage wins
	// immediately, without touching the recipient's commit set again.
	r.cacheMu.Lock()
	if cached, found := r.cache[preimage]; found {
		delete(r.cache, preimage)
		if cached.expiresAt.After(time.Now()) {
			r.cacheMu.Unlock()
			return SendOutcome{Status: wire.SendOK, Payload: cached.response}
		}
	}
	r.cacheMu.Unlock()

	commit := capability.CommitFor(preimage)

	// 2. Validate the recipient is connected and the commit is live,
	// consuming it so it can never be replayed.
	r.devicesMu.Lock()
	device, found := r.devices[toID]
	if !found {
		r.devicesMu.Unlock()
		return SendOutcome{Status: wire.SendErrNotConnected}
	}
	if _, valid := device.commits[commit]; !valid {
		r.devicesMu.Unlock()
		return SendOutcome{Status: wire.SendErrInvalidPreimage}
	}
	delete(device.commits, commit)
	sender := device.sender
	r.devicesMu.Unlock()

	msgID := r.allocateMsgID()

	resultCh := make(chan []byte, 1)
	r.pendingMu.Lock()
	r.pending[msgID] = pendingEntry{preimage: preimage, resultCh: resultCh}
	r.pendingMu.Unlock()

	timer := time.NewTimer(r.routeTimeout)
	defer timer.Stop()

	// Queue the delivery. The channel is bounded (deliveryQueueDepth) but a
	// healthy session is always draining it, so this blocks only as long as
	// the recipient is momentarily backed up, bounded by the same timeout
	// that bounds waiting for its ACK.
	select {
	case sender <- PendingDelivery{MsgID: msgID, Preimage: preimage, Payload: payload}:
	case <-timer.C:
		r.pendingMu.Lock()
		delete(r.pending, msgID)
		r.pendingMu.Unlock()
		return SendOutcome{Status: wire.SendErrDisconnected}
	case <-ctx.Done():
		r.pendingMu.Lock()
		delete(r.pending, msgID)
		r.pendingMu.Unlock()
		return SendOutcome{Status: wire.SendErrDisconnected}
	}

	select {
	case response, ok := <-resultCh:
		if !ok {
			return SendOutcome{Status: wire.SendErrDisconnected}
		}
		return SendOutcome{Status: wire.SendOK, Payload: response}
	case <-timer.C:
		r.pendingMu.Lock()
		delete(r.pending, msgID)
		r.pendingMu.Unlock()
		return SendOutcome{Status: wire.SendErrTimeout}
	case <-ctx.Done():
		r.pendingMu.Lock()
		delete(r.pending, msgID)
		r.pendingMu.Unlock()
		return SendOutcome{Status: wire.SendErrDisconnected}
	}
}

// CancelPending releases the pending routes registered under msgIDs, used
// when a recipient session closes so its senders don't wait the full 30
// seconds for a reply that will never come.
func (r *Router) CancelPending(msgIDs ...uint32) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for _, id := range msgIDs {
		if entry, found := r.pending[id]; found {
			close(entry.resultCh)
			delete(r.pending, id)
		}
	}
}

func (r *Router) allocateMsgID() uint32 {
	r.msgIDMu.Lock()
	defer r.msgIDMu.Unlock()
	id := r.nextMsgID
	r.nextMsgID++
	return id
}

// CleanupCache evicts expired cache entries. Call periodically from a
// background goroutine; it takes no locks it wouldn't otherwise need and is
// safe to run concurrently with routing.
func (r *Router) CleanupCache() {
	now := time.Now()
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	for preimage, cached := range r.cache {
		if !cached.expiresAt.After(now) {
			delete(r.cache, preimage)
		}
	}
}
