// Package reconcile merges history fetches, optimistic sends and server
// pushes into one deduplicated message sequence per logged-in user.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-realtime/internal/models"
)

// Tick is the delivery state shown next to a message.
type Tick int

const (
	TickPending Tick = iota
	TickFailed
	TickSent
	TickDelivered
	TickSeen
)

func (t Tick) String() string {
	switch t {
	case TickPending:
		return "pending"
	case TickFailed:
		return "failed"
	case TickSent:
		return "sent"
	case TickDelivered:
		return "delivered"
	case TickSeen:
		return "seen"
	}
	return "unknown"
}

// Receipt kinds accepted by ApplyReceipt.
const (
	ReceiptDelivered = "delivered"
	ReceiptSeen      = "seen"
)

// Peer selects a conversation.
type Peer struct {
	Type models.PeerType
	ID   string
}

func UserPeer(id string) Peer  { return Peer{Type: models.PeerUser, ID: id} }
func GroupPeer(id string) Peer { return Peer{Type: models.PeerGroup, ID: id} }

// Draft is a message the local user is about to send.
type Draft struct {
	Content        string
	Recipient      string
	Group          string
	FileAttachment *models.FileAttachment
	Forwarded      bool
}

// Entry is one row of a conversation view. Optimistic entries have a
// LocalRef and no message id until the server confirms them.
type Entry struct {
	LocalRef   string
	Message    models.Message
	Pending    bool
	Failed     bool
	FailReason string
}

// Confirmed reports whether the entry carries a server id.
func (e Entry) Confirmed() bool {
	return e.Message.ID != ""
}

// Store holds the reconciled messages of one user. It is safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	self    string
	entries []*Entry
	byID    map[string]*Entry
	byRef   map[string]*Entry
	now     func() time.Time
}

// NewStore creates an empty store for the user self.
func NewStore(self string) *Store {
	return &Store{
		self:  self,
		byID:  make(map[string]*Entry),
		byRef: make(map[string]*Entry),
		now:   time.Now,
	}
}

// Self returns the id of the user owning the store.
func (s *Store) Self() string { return s.self }

// LoadHistory replaces the confirmed messages of peer with msgs.
// Unresolved optimistic entries are kept.
func (s *Store) LoadHistory(peer Peer, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		keep[m.ID] = struct{}{}
	}
	s.removeLocked(func(e *Entry) bool {
		if !e.Confirmed() || !s.belongsLocked(e.Message, peer) {
			return false
		}
		_, ok := keep[e.Message.ID]
		return !ok
	})
	for _, m := range msgs {
		s.upsertLocked(m)
	}
}

// AddOptimistic records a local send before the server answers and returns
// its local reference.
func (s *Store) AddOptimistic(d Draft) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := "local-" + uuid.NewString()
	e := &Entry{
		LocalRef: ref,
		Pending:  true,
		Message: models.Message{
			Sender:         s.self,
			Recipient:      d.Recipient,
			Group:          d.Group,
			Content:        d.Content,
			FileAttachment: d.FileAttachment,
			Forwarded:      d.Forwarded,
			CreatedAt:      s.now(),
			DeliveredTo:    []string{},
			SeenBy:         []string{},
		},
	}
	s.entries = append(s.entries, e)
	s.byRef[ref] = e
	return ref
}

// ApplyPush merges a pushed message. A push carrying the clientRef of an
// optimistic entry confirms it in place. It reports whether a new entry
// was added.
func (s *Store) ApplyPush(msg models.Message, clientRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if clientRef != "" {
		if e, ok := s.byRef[clientRef]; ok {
			s.confirmLocked(e, msg)
			return false
		}
	}
	if _, ok := s.byID[msg.ID]; ok {
		s.upsertLocked(msg)
		return false
	}
	s.upsertLocked(msg)
	return true
}

// Confirm replaces an optimistic entry with the stored message returned by
// the server.
func (s *Store) Confirm(localRef string, msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byRef[localRef]
	if !ok {
		return false
	}
	s.confirmLocked(e, msg)
	return true
}

func (s *Store) confirmLocked(e *Entry, msg models.Message) {
	if existing, ok := s.byID[msg.ID]; ok && existing != e {
		// the push arrived without a ref; keep the first copy
		s.removeLocked(func(x *Entry) bool { return x == e })
		existing.LocalRef = e.LocalRef
		s.byRef[e.LocalRef] = existing
		mergeInto(existing, msg)
		return
	}
	e.Pending = false
	e.Failed = false
	e.FailReason = ""
	if e.Confirmed() {
		mergeInto(e, msg)
		return
	}
	e.Message = normalize(msg)
	s.byID[msg.ID] = e
}

// Fail flags an optimistic entry as rejected. It stays in the view.
func (s *Store) Fail(localRef, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byRef[localRef]
	if !ok || e.Confirmed() {
		return false
	}
	e.Pending = false
	e.Failed = true
	e.FailReason = reason
	return true
}

// Discard drops a failed optimistic entry.
func (s *Store) Discard(localRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byRef[localRef]
	if !ok || e.Confirmed() {
		return false
	}
	delete(s.byRef, localRef)
	s.removeLocked(func(x *Entry) bool { return x == e })
	return true
}

// ApplyReceipt adds userID to the delivered or seen set of a message.
func (s *Store) ApplyReceipt(kind, messageID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[messageID]
	if !ok {
		return false
	}
	switch kind {
	case ReceiptDelivered:
		if lo.Contains(e.Message.DeliveredTo, userID) {
			return false
		}
		e.Message.DeliveredTo = append(e.Message.DeliveredTo, userID)
	case ReceiptSeen:
		if lo.Contains(e.Message.SeenBy, userID) {
			return false
		}
		e.Message.SeenBy = append(e.Message.SeenBy, userID)
	default:
		return false
	}
	return true
}

// ApplyEdit updates the content of a known message.
func (s *Store) ApplyEdit(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[msg.ID]
	if !ok {
		return false
	}
	e.Message.Content = msg.Content
	e.Message.EditedAt = msg.EditedAt
	return true
}

// ApplyDelete removes a message.
func (s *Store) ApplyDelete(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[messageID]
	if !ok {
		return false
	}
	if e.LocalRef != "" {
		delete(s.byRef, e.LocalRef)
	}
	s.removeLocked(func(x *Entry) bool { return x == e })
	return true
}

// View returns the conversation with peer, oldest first.
func (s *Store) View(peer Peer) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0)
	for _, e := range s.entries {
		if s.belongsLocked(e.Message, peer) {
			out = append(out, copyEntry(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Message.CreatedAt.Before(out[j].Message.CreatedAt)
	})
	return out
}

// Unread counts messages from others in peer's view that self has not seen.
func (s *Store) Unread(peer Peer) int {
	return len(s.UnseenIDs(peer))
}

// UnseenIDs lists the ids of messages from others in peer's view that self
// has not seen.
func (s *Store) UnseenIDs(peer Peer) []string {
	ids := make([]string, 0)
	for _, e := range s.View(peer) {
		m := e.Message
		if e.Confirmed() && m.Sender != s.self && !m.SeenByUser(s.self) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Tick returns the delivery state of an entry from the owner's point of
// view. Seen implies delivered.
func (s *Store) Tick(e Entry) Tick {
	switch {
	case e.Failed:
		return TickFailed
	case e.Pending || !e.Confirmed():
		return TickPending
	}
	others := func(ids []string) bool {
		return lo.ContainsBy(ids, func(id string) bool { return id != e.Message.Sender })
	}
	switch {
	case others(e.Message.SeenBy):
		return TickSeen
	case others(e.Message.DeliveredTo):
		return TickDelivered
	default:
		return TickSent
	}
}

func (s *Store) belongsLocked(m models.Message, peer Peer) bool {
	return m.BelongsTo(s.self, peer.Type, peer.ID)
}

func (s *Store) upsertLocked(msg models.Message) {
	if e, ok := s.byID[msg.ID]; ok {
		mergeInto(e, msg)
		return
	}
	e := &Entry{Message: normalize(msg)}
	s.entries = append(s.entries, e)
	s.byID[msg.ID] = e
}

func (s *Store) removeLocked(drop func(*Entry) bool) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if drop(e) {
			if e.Confirmed() && s.byID[e.Message.ID] == e {
				delete(s.byID, e.Message.ID)
			}
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
}

// mergeInto applies an authoritative copy of a message. Receipt sets only
// grow.
func mergeInto(e *Entry, msg models.Message) {
	delivered := lo.Union(e.Message.DeliveredTo, msg.DeliveredTo)
	seen := lo.Union(e.Message.SeenBy, msg.SeenBy)
	e.Message = normalize(msg)
	e.Message.DeliveredTo = delivered
	e.Message.SeenBy = seen
	e.Pending = false
	e.Failed = false
}

func normalize(msg models.Message) models.Message {
	if msg.DeliveredTo == nil {
		msg.DeliveredTo = []string{}
	}
	if msg.SeenBy == nil {
		msg.SeenBy = []string{}
	}
	return msg
}

func copyEntry(e *Entry) Entry {
	out := *e
	out.Message.DeliveredTo = append([]string(nil), e.Message.DeliveredTo...)
	out.Message.SeenBy = append([]string(nil), e.Message.SeenBy...)
	return out
}
