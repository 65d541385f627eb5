package store

import (
	"context"
	"sort"
	"sync"
	"time"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
	direct "github.com/vadim/neo-social/internal/domain/direct/entity"
	follow "github.com/vadim/neo-social/internal/domain/follow/entity"
	notification "github.com/vadim/neo-social/internal/domain/notification/entity"
)

// Memory is an in-process Store. A transaction works on a copy of the state
// and swaps it in on success, so a failed unit of work leaves nothing behind.
// Transactions are serialized by a single mutex.
type Memory struct {
	mu *sync.Mutex
	st *memState
	tx bool
}

type memState struct {
	users         map[string]account.User
	conversations map[string]direct.Conversation
	byKey         map[string]string
	participants  map[string][]direct.Participant
	messages      map[string]direct.Message
	order         map[string][]string
	reactions     map[string]direct.Reaction
	notifications map[string]notification.Notification
	notifOrder    []string
	follows       map[[2]string]follow.Follow
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		mu: &sync.Mutex{},
		st: &memState{
			users:         make(map[string]account.User),
			conversations: make(map[string]direct.Conversation),
			byKey:         make(map[string]string),
			participants:  make(map[string][]direct.Participant),
			messages:      make(map[string]direct.Message),
			order:         make(map[string][]string),
			reactions:     make(map[string]direct.Reaction),
			notifications: make(map[string]notification.Notification),
			follows:       make(map[[2]string]follow.Follow),
		},
	}
}

// PutUser inserts or replaces a user record. The users table is owned by the
// wider backend, so this is how local runs and tests seed accounts.
func (m *Memory) PutUser(u account.User) {
	defer m.lock()()
	m.st.users[u.ID] = u
}

func (m *Memory) lock() func() {
	if m.tx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (s *memState) clone() *memState {
	c := &memState{
		users:         make(map[string]account.User, len(s.users)),
		conversations: make(map[string]direct.Conversation, len(s.conversations)),
		byKey:         make(map[string]string, len(s.byKey)),
		participants:  make(map[string][]direct.Participant, len(s.participants)),
		messages:      make(map[string]direct.Message, len(s.messages)),
		order:         make(map[string][]string, len(s.order)),
		reactions:     make(map[string]direct.Reaction, len(s.reactions)),
		notifications: make(map[string]notification.Notification, len(s.notifications)),
		notifOrder:    append([]string(nil), s.notifOrder...),
		follows:       make(map[[2]string]follow.Follow, len(s.follows)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.conversations {
		c.conversations[k] = v
	}
	for k, v := range s.byKey {
		c.byKey[k] = v
	}
	for k, v := range s.participants {
		c.participants[k] = append([]direct.Participant(nil), v...)
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	for k, v := range s.order {
		c.order[k] = append([]string(nil), v...)
	}
	for k, v := range s.reactions {
		c.reactions[k] = v
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	for k, v := range s.follows {
		c.follows[k] = v
	}
	return c
}

func (m *Memory) Users() UserRepository                 { return memUsers{m} }
func (m *Memory) Conversations() ConversationRepository { return memConversations{m} }
func (m *Memory) Messages() MessageRepository           { return memMessages{m} }
func (m *Memory) Reactions() ReactionRepository         { return memReactions{m} }
func (m *Memory) Notifications() NotificationRepository { return memNotifications{m} }
func (m *Memory) Follows() FollowRepository             { return memFollows{m} }

// WithinTx runs fn on a copy of the state and commits it if fn succeeds
func (m *Memory) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if m.tx {
		return fn(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Memory{mu: m.mu, st: m.st.clone(), tx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.st = tx.st
	return nil
}

// Ping always succeeds
func (m *Memory) Ping(context.Context) error { return nil }

type memUsers struct{ m *Memory }

func (r memUsers) GetByID(_ context.Context, id string) (*account.User, error) {
	defer r.m.lock()()
	u, ok := r.m.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type memConversations struct{ m *Memory }

func (r memConversations) GetOrCreateDirect(_ context.Context, conv *direct.Conversation, a, b string) (*direct.Conversation, bool, error) {
	defer r.m.lock()()
	st := r.m.st

	if id, ok := st.byKey[conv.DirectKey]; ok {
		existing := st.conversations[id]
		return &existing, false, nil
	}

	stored := *conv
	st.conversations[stored.ID] = stored
	st.byKey[stored.DirectKey] = stored.ID
	st.participants[stored.ID] = []direct.Participant{
		{ConversationID: stored.ID, UserID: a, CreatedAt: stored.CreatedAt},
		{ConversationID: stored.ID, UserID: b, CreatedAt: stored.CreatedAt},
	}
	return &stored, true, nil
}

func (r memConversations) FindDirect(_ context.Context, a, b string) (*direct.Conversation, error) {
	defer r.m.lock()()
	id, ok := r.m.st.byKey[direct.DirectKey(a, b)]
	if !ok {
		return nil, nil
	}
	conv := r.m.st.conversations[id]
	return &conv, nil
}

func (r memConversations) GetByID(_ context.Context, id string) (*direct.Conversation, error) {
	defer r.m.lock()()
	conv, ok := r.m.st.conversations[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (r memConversations) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	defer r.m.lock()()
	for _, p := range r.m.st.participants[conversationID] {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r memConversations) ParticipantIDs(_ context.Context, conversationID string) ([]string, error) {
	defer r.m.lock()()
	var ids []string
	for _, p := range r.m.st.participants[conversationID] {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

func (r memConversations) ListIDsForUser(_ context.Context, userID string) ([]string, error) {
	defer r.m.lock()()
	var ids []string
	for convID, ps := range r.m.st.participants {
		for _, p := range ps {
			if p.UserID == userID {
				ids = append(ids, convID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r memConversations) ListPeers(_ context.Context, userID string) ([]string, error) {
	defer r.m.lock()()
	seen := make(map[string]struct{})
	for _, ps := range r.m.st.participants {
		member := false
		for _, p := range ps {
			if p.UserID == userID {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		for _, p := range ps {
			if p.UserID != userID {
				seen[p.UserID] = struct{}{}
			}
		}
	}

	peers := make([]string, 0, len(seen))
	for id := range seen {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers, nil
}

func (r memConversations) ListForUser(_ context.Context, userID string, limit, offset int) ([]direct.Conversation, error) {
	defer r.m.lock()()
	var list []direct.Conversation
	for convID, ps := range r.m.st.participants {
		for _, p := range ps {
			if p.UserID == userID {
				list = append(list, r.m.st.conversations[convID])
				break
			}
		}
	}

	sort.Slice(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return page(list, limit, offset), nil
}

func (r memConversations) Touch(_ context.Context, id string, at time.Time) error {
	defer r.m.lock()()
	conv, ok := r.m.st.conversations[id]
	if !ok {
		return nil
	}
	conv.UpdatedAt = at
	r.m.st.conversations[id] = conv
	return nil
}

type memMessages struct{ m *Memory }

func (r memMessages) Create(_ context.Context, msg *direct.Message) error {
	defer r.m.lock()()
	r.m.st.messages[msg.ID] = *msg
	r.m.st.order[msg.ConversationID] = append(r.m.st.order[msg.ConversationID], msg.ID)
	return nil
}

func (r memMessages) GetByID(_ context.Context, id string) (*direct.Message, error) {
	defer r.m.lock()()
	msg, ok := r.m.st.messages[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (r memMessages) List(_ context.Context, conversationID, afterID string, limit int) ([]direct.Message, error) {
	defer r.m.lock()()
	ids := r.m.st.order[conversationID]

	start := 0
	if afterID != "" {
		start = len(ids)
		for i, id := range ids {
			if id == afterID {
				start = i + 1
				break
			}
		}
	}

	var list []direct.Message
	for _, id := range ids[start:] {
		if limit > 0 && len(list) == limit {
			break
		}
		list = append(list, r.m.st.messages[id])
	}
	return list, nil
}

func (r memMessages) Last(_ context.Context, conversationID string) (*direct.Message, error) {
	defer r.m.lock()()
	ids := r.m.st.order[conversationID]
	if len(ids) == 0 {
		return nil, nil
	}
	msg := r.m.st.messages[ids[len(ids)-1]]
	return &msg, nil
}

func (r memMessages) Delete(_ context.Context, id string) error {
	defer r.m.lock()()
	st := r.m.st
	msg, ok := st.messages[id]
	if !ok {
		return nil
	}
	delete(st.messages, id)

	ids := st.order[msg.ConversationID]
	for i, mid := range ids {
		if mid == id {
			st.order[msg.ConversationID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	for rid, re := range st.reactions {
		if re.MessageID == id {
			delete(st.reactions, rid)
		}
	}
	for mid, other := range st.messages {
		if other.ReplyToID == id {
			other.ReplyToID = ""
			st.messages[mid] = other
		}
	}
	return nil
}

func (r memMessages) MarkRead(_ context.Context, conversationID, notSentBy string, at time.Time) (int64, error) {
	defer r.m.lock()()
	var n int64
	for _, id := range r.m.st.order[conversationID] {
		msg := r.m.st.messages[id]
		if msg.Read || msg.SenderID == notSentBy {
			continue
		}
		readAt := at
		msg.Read, msg.ReadAt = true, &readAt
		r.m.st.messages[id] = msg
		n++
	}
	return n, nil
}

func (r memMessages) MarkOneRead(_ context.Context, id, readerID string, at time.Time) (bool, error) {
	defer r.m.lock()()
	msg, ok := r.m.st.messages[id]
	if !ok || msg.Read || msg.SenderID == readerID {
		return false, nil
	}
	readAt := at
	msg.Read, msg.ReadAt = true, &readAt
	r.m.st.messages[id] = msg
	return true, nil
}

func (r memMessages) UnreadCount(_ context.Context, conversationID, viewerID string) (int, error) {
	defer r.m.lock()()
	count := 0
	for _, id := range r.m.st.order[conversationID] {
		msg := r.m.st.messages[id]
		if !msg.Read && msg.SenderID != viewerID {
			count++
		}
	}
	return count, nil
}

type memReactions struct{ m *Memory }

func (r memReactions) Find(_ context.Context, messageID, userID, emoji string) (*direct.Reaction, error) {
	defer r.m.lock()()
	for _, re := range r.m.st.reactions {
		if re.MessageID == messageID && re.UserID == userID && re.Emoji == emoji {
			found := re
			return &found, nil
		}
	}
	return nil, nil
}

func (r memReactions) Create(_ context.Context, re *direct.Reaction) error {
	defer r.m.lock()()
	r.m.st.reactions[re.ID] = *re
	return nil
}

func (r memReactions) Delete(_ context.Context, id string) error {
	defer r.m.lock()()
	delete(r.m.st.reactions, id)
	return nil
}

func (r memReactions) ListByMessage(_ context.Context, messageID string) ([]direct.Reaction, error) {
	defer r.m.lock()()
	var list []direct.Reaction
	for _, re := range r.m.st.reactions {
		if re.MessageID == messageID {
			list = append(list, re)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

type memNotifications struct{ m *Memory }

func (r memNotifications) Create(_ context.Context, n *notification.Notification) error {
	defer r.m.lock()()
	r.m.st.notifications[n.ID] = *n
	r.m.st.notifOrder = append(r.m.st.notifOrder, n.ID)
	return nil
}

func (r memNotifications) FindUnread(_ context.Context, match notification.Notification) (*notification.Notification, error) {
	defer r.m.lock()()
	for _, id := range r.m.st.notifOrder {
		n := r.m.st.notifications[id]
		if !n.Read && n.SameTarget(match) {
			return &n, nil
		}
	}
	return nil, nil
}

func (r memNotifications) GetByID(_ context.Context, id string) (*notification.Notification, error) {
	defer r.m.lock()()
	n, ok := r.m.st.notifications[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (r memNotifications) ListForUser(_ context.Context, userID string, limit int) ([]notification.Notification, error) {
	defer r.m.lock()()
	var list []notification.Notification
	for i := len(r.m.st.notifOrder) - 1; i >= 0; i-- {
		n := r.m.st.notifications[r.m.st.notifOrder[i]]
		if n.UserID == userID {
			list = append(list, n)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return page(list, limit, 0), nil
}

func (r memNotifications) CountUnread(_ context.Context, userID string) (int, error) {
	defer r.m.lock()()
	count := 0
	for _, n := range r.m.st.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (r memNotifications) MarkRead(_ context.Context, id string) error {
	defer r.m.lock()()
	n, ok := r.m.st.notifications[id]
	if ok {
		n.Read = true
		r.m.st.notifications[id] = n
	}
	return nil
}

func (r memNotifications) MarkAllRead(_ context.Context, userID string) (int64, error) {
	defer r.m.lock()()
	var count int64
	for id, n := range r.m.st.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			r.m.st.notifications[id] = n
			count++
		}
	}
	return count, nil
}

type memFollows struct{ m *Memory }

func (r memFollows) Get(_ context.Context, followerID, followedID string) (*follow.Follow, error) {
	defer r.m.lock()()
	f, ok := r.m.st.follows[[2]string{followerID, followedID}]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (r memFollows) Create(_ context.Context, f *follow.Follow) error {
	defer r.m.lock()()
	r.m.st.follows[[2]string{f.FollowerID, f.FollowedID}] = *f
	return nil
}

func (r memFollows) UpdateStatus(_ context.Context, followerID, followedID string, status follow.Status) error {
	defer r.m.lock()()
	key := [2]string{followerID, followedID}
	f, ok := r.m.st.follows[key]
	if ok {
		f.Status = status
		r.m.st.follows[key] = f
	}
	return nil
}

func (r memFollows) Delete(_ context.Context, followerID, followedID string) error {
	defer r.m.lock()()
	delete(r.m.st.follows, [2]string{followerID, followedID})
	return nil
}

func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
