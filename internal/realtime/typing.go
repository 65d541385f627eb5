package realtime

import (
	"sort"
	"time"
)

// Typing tracks, per conversation, which users are composing and when they
// last signalled. Entries live until stop, disconnect or Expire.
//
// Typing is owned by the Engine loop and is not safe for concurrent use.
type Typing struct {
	convs map[string]map[string]time.Time
}

// TypingEntry identifies one typing user in one conversation
type TypingEntry struct {
	ConversationID string
	UserID         string
}

// NewTyping creates an empty tracker
func NewTyping() *Typing {
	return &Typing{convs: make(map[string]map[string]time.Time)}
}

// Start records that userID is typing in conversationID at time at
func (t *Typing) Start(conversationID, userID string, at time.Time) {
	users, ok := t.convs[conversationID]
	if !ok {
		users = make(map[string]time.Time)
		t.convs[conversationID] = users
	}
	users[userID] = at
}

// Stop removes the entry and reports whether it existed
func (t *Typing) Stop(conversationID, userID string) bool {
	users, ok := t.convs[conversationID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.convs, conversationID)
	}
	return true
}

// ClearUser removes the user from every conversation and returns the
// affected conversation ids in sorted order
func (t *Typing) ClearUser(userID string) []string {
	var cleared []string
	for convID := range t.convs {
		if t.Stop(convID, userID) {
			cleared = append(cleared, convID)
		}
	}
	sort.Strings(cleared)
	return cleared
}

// Expire removes entries last signalled before cutoff
func (t *Typing) Expire(cutoff time.Time) []TypingEntry {
	var expired []TypingEntry
	for convID, users := range t.convs {
		for userID, at := range users {
			if at.Before(cutoff) {
				expired = append(expired, TypingEntry{ConversationID: convID, UserID: userID})
			}
		}
	}
	for _, e := range expired {
		t.Stop(e.ConversationID, e.UserID)
	}

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].ConversationID != expired[j].ConversationID {
			return expired[i].ConversationID < expired[j].ConversationID
		}
		return expired[i].UserID < expired[j].UserID
	})
	return expired
}

// Users returns the users typing in a conversation, sorted
func (t *Typing) Users(conversationID string) []string {
	users := make([]string, 0, len(t.convs[conversationID]))
	for userID := range t.convs[conversationID] {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// IsTyping reports whether userID has an entry in conversationID
func (t *Typing) IsTyping(conversationID, userID string) bool {
	_, ok := t.convs[conversationID][userID]
	return ok
}

// Reset drops every entry
func (t *Typing) Reset() {
	clear(t.convs)
}
