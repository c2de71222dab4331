package usecase

import (
	"slices"

	"chat-client/internal/domain"
)

// State is a read-only snapshot of the conversation store.
type State struct {
	Conversations        []domain.Conversation
	CurrentConversation  *domain.Conversation
	Messages             []domain.ChatMessage
	LoadingConversations bool
	LoadingConversation  bool
	SendingMessage       bool
	Error                string

	// Version increases with every mutation. Subscribers receive snapshots in
	// increasing Version order.
	Version uint64
}

func (st State) HasMessages() bool {
	return len(st.Messages) > 0
}

// clone returns a deep copy so callers never share backing arrays with the store.
func (st State) clone() State {
	out := st
	out.Conversations = slices.Clone(st.Conversations)
	if st.CurrentConversation != nil {
		cur := *st.CurrentConversation
		out.CurrentConversation = &cur
	}
	if st.Messages != nil {
		out.Messages = make([]domain.ChatMessage, len(st.Messages))
		for i, m := range st.Messages {
			m.Sources = slices.Clone(m.Sources)
			out.Messages[i] = m
		}
	}
	return out
}

// Snapshot returns a copy of the current state.
func (s *ConversationStore) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn to receive a snapshot after every mutation. Callbacks
// run on the goroutine that performed the mutation, outside the state lock but
// one delivery at a time; a snapshot older than one already delivered is
// skipped. fn may call Snapshot but must not start store actions. The returned
// function removes the subscription.
func (s *ConversationStore) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// mutate applies fn to the state under the lock and notifies subscribers.
func (s *ConversationStore) mutate(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	snap := s.bumpLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// bumpLocked advances the version and returns a snapshot. s.mu must be held.
func (s *ConversationStore) bumpLocked() State {
	s.state.Version++
	return s.state.clone()
}

// publish delivers snap to subscribers unless a newer snapshot was already
// delivered. Deliveries never overlap, so every subscriber sees strictly
// increasing versions.
func (s *ConversationStore) publish(snap State) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if snap.Version <= s.published {
		return
	}
	s.published = snap.Version

	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
