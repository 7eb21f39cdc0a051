package projection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coyapp/chat-service/internal/apperr"
	"github.com/coyapp/chat-service/internal/domain"
	"github.com/coyapp/chat-service/internal/metrics"
	"github.com/coyapp/chat-service/internal/store"
)

const (
	backfillLimit  = 500
	maxPendingDocs = 1024
)

// Source is the document store's change feed.
type Source interface {
	WatchChanges(ctx context.Context) (<-chan store.Change, error)
}

// Loader backfills a room before live changes are folded in.
type Loader interface {
	GetRoom(ctx context.Context, chatID string) (*domain.ChatRoom, error)
	ListMessages(ctx context.Context, chatID, forUser string, after *store.Cursor, limit int64) ([]domain.Message, error)
}

// Subscription is one viewer's live projection of one room. Snapshots are
// coalesced: a slow consumer sees the latest view, not a backlog.
type Subscription struct {
	ChatID string
	Viewer string

	state   *roomState
	updates chan RoomView
	mgr     *Manager
	once    sync.Once
}

// Updates yields consistent snapshots; the channel closes when the
// subscription is released.
func (s *Subscription) Updates() <-chan RoomView { return s.updates }

// Close releases the subscription. Safe to call more than once; also called
// automatically when the subscribing context ends.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mgr.unsubscribe(s)
	})
}

func (s *Subscription) publish(v RoomView) {
	for {
		select {
		case s.updates <- v:
			return
		default:
		}
		// Channel full: drop the stale snapshot and retry with the fresh one.
		select {
		case <-s.updates:
		default:
		}
	}
}

type pendingEntry struct {
	changes  []store.Change
	deadline time.Time
}

// Manager fans the single change stream out to per-(room, viewer)
// subscriptions and owns the out-of-order machinery: a message-id → room
// index learned from backfills and inserts, plus a bounded buffer for
// updates that arrive before their document is known.
type Manager struct {
	src    Source
	loader Loader
	window time.Duration
	log    *zap.SugaredLogger

	mu      sync.Mutex
	subs    map[string]map[*Subscription]struct{}
	index   map[string]string
	pending map[string]*pendingEntry
}

func NewManager(src Source, loader Loader, window time.Duration, log *zap.SugaredLogger) *Manager {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Manager{
		src:     src,
		loader:  loader,
		window:  window,
		log:     log,
		subs:    make(map[string]map[*Subscription]struct{}),
		index:   make(map[string]string),
		pending: make(map[string]*pendingEntry),
	}
}

// Run consumes the change feed until ctx ends, reopening the stream with
// backoff when it drops. A reopened stream may have missed events, so every
// active projection is marked stale until its viewer resubscribes.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for ctx.Err() == nil {
		feed, err := m.src.WatchChanges(ctx)
		if err != nil {
			m.log.Warnw("change feed open failed", "err", err)
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

	consume:
		for {
			select {
			case ch, ok := <-feed:
				if !ok {
					m.markAllStale("change feed dropped")
					break consume
				}
				m.handle(ch)
			case <-ticker.C:
				m.expirePending()
			case <-ctx.Done():
				return
			}
		}
	}
}

// Subscribe opens a live projection for viewer on chatID: backfill from the
// store, then fold the feed. The subscription dies with ctx.
func (m *Manager) Subscribe(ctx context.Context, chatID, viewer string) (*Subscription, error) {
	room, err := m.loader.GetRoom(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(viewer) {
		return nil, apperr.ErrForbidden
	}
	backfill, err := m.loader.ListMessages(ctx, chatID, viewer, nil, backfillLimit)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		ChatID:  chatID,
		Viewer:  viewer,
		state:   newRoomState(viewer, *room, backfill),
		updates: make(chan RoomView, 1),
		mgr:     m,
	}

	m.mu.Lock()
	if m.subs[chatID] == nil {
		m.subs[chatID] = make(map[*Subscription]struct{})
	}
	m.subs[chatID][sub] = struct{}{}
	for _, msg := range backfill {
		m.index[msg.MessageID] = chatID
	}
	// Updates that raced ahead of this backfill may already be buffered.
	for id, entry := range m.pending {
		if m.index[id] != chatID {
			continue
		}
		for _, ch := range entry.changes {
			sub.state.applyMessage(ch)
		}
		delete(m.pending, id)
	}
	// The initial snapshot goes out before the lock drops; once it does, the
	// feed goroutine owns all further access to the subscription state.
	sub.publish(sub.state.snapshot())
	m.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

func (m *Manager) unsubscribe(s *Subscription) {
	m.mu.Lock()
	if set, ok := m.subs[s.ChatID]; ok {
		if _, live := set[s]; live {
			delete(set, s)
			if len(set) == 0 {
				delete(m.subs, s.ChatID)
				// Nobody watches this room anymore; drop its id index
				// entries so the map cannot grow without bound. A later
				// subscribe relearns them from its backfill.
				for id, chatID := range m.index {
					if chatID == s.ChatID {
						delete(m.index, id)
					}
				}
			}
			metrics.ActiveSubscriptions.Dec()
		}
	}
	m.mu.Unlock()
	close(s.updates)
}

func (m *Manager) handle(ch store.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ch.Collection {
	case "messages":
		m.handleMessage(ch)
	case "chatRooms":
		for sub := range m.subs[ch.ChatID] {
			if sub.state.applyRoom(ch) {
				sub.publish(sub.state.snapshot())
			}
		}
	}
}

func (m *Manager) handleMessage(ch store.Change) {
	chatID := ch.ChatID
	if chatID == "" {
		chatID = m.index[ch.DocID]
	}

	if chatID == "" {
		// A field update for a document we have never seen: the create may
		// still be in flight. Buffer it for a bounded window.
		m.buffer(ch)
		return
	}
	m.index[ch.DocID] = chatID

	for sub := range m.subs[chatID] {
		if sub.state.applyMessage(ch) {
			sub.publish(sub.state.snapshot())
		}
	}

	// An insert settles any updates that arrived ahead of it.
	if entry, ok := m.pending[ch.DocID]; ok && (ch.Op == store.OpInsert || ch.Op == store.OpReplace) {
		for _, buffered := range entry.changes {
			for sub := range m.subs[chatID] {
				if sub.state.applyMessage(buffered) {
					sub.publish(sub.state.snapshot())
				}
			}
		}
		delete(m.pending, ch.DocID)
	}
}

func (m *Manager) buffer(ch store.Change) {
	if len(m.pending) >= maxPendingDocs {
		m.dropGapLocked("pending buffer full", 1)
		return
	}
	entry := m.pending[ch.DocID]
	if entry == nil {
		entry = &pendingEntry{deadline: time.Now().Add(m.window)}
		m.pending[ch.DocID] = entry
	}
	entry.changes = append(entry.changes, ch)
}

func (m *Manager) expirePending() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	dropped := 0
	for id, entry := range m.pending {
		if now.After(entry.deadline) {
			delete(m.pending, id)
			dropped++
		}
	}
	if dropped > 0 {
		m.dropGapLocked("buffered updates expired", dropped)
	}
}

// dropGapLocked records a reconciliation gap. The dropped update cannot be
// attributed to a room, so every active projection is flagged as possibly
// stale; resubscribing clears the flag through a fresh backfill.
func (m *Manager) dropGapLocked(reason string, n int) {
	metrics.ReconciliationGaps.Add(float64(n))
	m.log.Warnw("projection gap", "reason", reason, "dropped", n)
	for _, set := range m.subs {
		for sub := range set {
			sub.state.stale = true
			sub.publish(sub.state.snapshot())
		}
	}
}

func (m *Manager) markAllStale(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropGapLocked(reason, 0)
}
