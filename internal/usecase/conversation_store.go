package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"chat-client/internal/domain"
)

const keyConversations = "conversations"

func conversationKey(id int) string {
	return "conversation:" + strconv.Itoa(id)
}

// ConversationAPI is the backend surface the store drives.
// *chatapi.Client satisfies this interface.
type ConversationAPI interface {
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	CreateConversation(ctx context.Context) (domain.Conversation, error)
	GetConversation(ctx context.Context, id int) (domain.Conversation, error)
	GetMessages(ctx context.Context, id int) ([]domain.Message, error)
	SendMessage(ctx context.Context, id int, query string) (domain.Message, error)
	UpdateConversation(ctx context.Context, id int, title string) (domain.Conversation, error)
}

// ConversationStore holds the chat UI state and keeps it in sync with the
// backend. Construct one per session and pass it to consumers.
type ConversationStore struct {
	api    ConversationAPI
	logger *slog.Logger
	now    func() time.Time

	// inflight joins concurrent callers of the same logical load.
	inflight   singleflight.Group
	background sync.WaitGroup

	mu         sync.Mutex
	state      State
	listLoads  int
	convLoads  int
	sends      int
	lastTempID int
	sendQueues map[int]chan struct{}

	subMu     sync.Mutex
	subs      map[int]func(State)
	nextSubID int

	// deliverMu serializes subscriber fan-out; published is guarded by it.
	deliverMu sync.Mutex
	published uint64
}

type StoreOption func(*ConversationStore)

func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *ConversationStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for provisional messages.
func WithClock(now func() time.Time) StoreOption {
	return func(s *ConversationStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewConversationStore(api ConversationAPI, opts ...StoreOption) (*ConversationStore, error) {
	if api == nil {
		return nil, errors.New("usecase: conversation api must not be nil")
	}
	s := &ConversationStore{
		api:    api,
		logger: slog.Default(),
		now:    time.Now,
		state: State{
			Conversations: []domain.Conversation{},
			Messages:      []domain.ChatMessage{},
		},
		sendQueues: make(map[int]chan struct{}),
		subs:       make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadConversations refreshes the conversation list. Concurrent callers share
// one in-flight fetch. On failure the previous list is kept.
func (s *ConversationStore) LoadConversations(ctx context.Context) error {
	_, err, _ := s.inflight.Do(keyConversations, func() (any, error) {
		s.mutate(func(st *State) {
			s.listLoads++
			st.LoadingConversations = true
			st.Error = ""
		})

		convs, err := s.api.ListConversations(ctx)

		s.mutate(func(st *State) {
			s.listLoads--
			st.LoadingConversations = s.listLoads > 0
			if err != nil {
				st.Error = errorMessage(err, "Failed to load conversations")
				return
			}
			st.Conversations = convs
		})
		if err != nil {
			s.logger.Error("failed to load conversations", "err", err)
		}
		return nil, err
	})
	return err
}

// LoadConversation makes id the current conversation and replaces the message
// list with its history. Both are applied together, and only if both fetches
// succeed. Concurrent callers for the same id share one load.
func (s *ConversationStore) LoadConversation(ctx context.Context, id int) error {
	_, err, _ := s.inflight.Do(conversationKey(id), func() (any, error) {
		return nil, s.loadConversation(ctx, id)
	})
	return err
}

func (s *ConversationStore) loadConversation(ctx context.Context, id int) error {
	s.mutate(func(st *State) {
		s.convLoads++
		st.LoadingConversation = true
		st.Error = ""
	})

	var (
		msgs []domain.Message
		conv domain.Conversation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		msgs, err = s.api.GetMessages(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		conv, err = s.api.GetConversation(gctx, id)
		return err
	})
	err := g.Wait()

	s.mutate(func(st *State) {
		s.convLoads--
		st.LoadingConversation = s.convLoads > 0
		if err != nil {
			st.Error = errorMessage(err, "Failed to load conversation")
			return
		}
		st.Messages = domain.ExpandMessages(msgs)
		st.CurrentConversation = &conv
	})
	return err
}

// InitializeConversation creates a conversation, makes it current with an
// empty history and refreshes the list in the background. A failed refresh is
// logged, not returned.
func (s *ConversationStore) InitializeConversation(ctx context.Context) (domain.Conversation, error) {
	s.mutate(func(st *State) {
		s.convLoads++
		st.LoadingConversation = true
		st.Error = ""
	})

	conv, err := s.api.CreateConversation(ctx)

	s.mutate(func(st *State) {
		s.convLoads--
		st.LoadingConversation = s.convLoads > 0
		if err != nil {
			st.Error = errorMessage(err, "Failed to create conversation")
			return
		}
		cur := conv
		st.CurrentConversation = &cur
		st.Messages = []domain.ChatMessage{}
	})
	if err != nil {
		return domain.Conversation{}, err
	}

	s.refreshInBackground(ctx)
	return conv, nil
}

func (s *ConversationStore) refreshInBackground(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.LoadConversations(ctx); err != nil {
			s.logger.Warn("failed to reload conversations", "err", err)
		}
	}()
}

// Wait blocks until background refreshes started by the store have finished.
func (s *ConversationStore) Wait() {
	s.background.Wait()
}

// SendMessage sends query in the current conversation. A provisional user
// message is visible immediately; it is replaced by the confirmed exchange on
// success and removed on failure. Sends within one conversation reach the
// backend in call order.
func (s *ConversationStore) SendMessage(ctx context.Context, query string) (domain.Message, error) {
	s.mu.Lock()
	if s.state.CurrentConversation == nil {
		s.mu.Unlock()
		return domain.Message{}, ErrNoConversation
	}
	convID := s.state.CurrentConversation.ID
	tempID := s.nextTempIDLocked()
	tx := beginProvisional(&s.state.Messages, domain.UserChatMessage(tempID, query, s.now().UTC()))
	s.sends++
	s.state.SendingMessage = true
	queue := s.sendQueueLocked(convID)
	snap := s.bumpLocked()
	s.mu.Unlock()
	s.publish(snap)

	msg, err := s.sendQueued(ctx, queue, convID, query)

	s.mutate(func(st *State) {
		s.sends--
		st.SendingMessage = s.sends > 0
		if err != nil {
			tx.rollback(&st.Messages)
			st.Error = errorMessage(err, "Failed to send message")
			return
		}
		user := domain.UserChatMessage(msg.ID, query, msg.Created)
		bot := domain.BotChatMessage(msg.ID, msg.Response, msg.Created, msg.Sources)
		if tx.commit(&st.Messages, user, bot) || !isCurrent(st, convID) {
			recordSent(st, convID, msg.Created)
			return
		}
		// The current conversation was reloaded while the send was pending.
		if indexOfChatMessage(st.Messages, user.ID) < 0 {
			st.Messages = append(slices.Clone(st.Messages), user, bot)
			recordSent(st, convID, msg.Created)
			return
		}
		// The reload already returned this exchange and its count.
		syncListEntry(st)
	})
	if err != nil {
		s.logger.Debug("send message failed", "conversation_id", convID, "err", err)
		return domain.Message{}, err
	}
	return msg, nil
}

// sendQueued waits for the conversation's send slot, then calls the backend.
func (s *ConversationStore) sendQueued(ctx context.Context, queue chan struct{}, convID int, query string) (domain.Message, error) {
	select {
	case queue <- struct{}{}:
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
	defer func() { <-queue }()
	return s.api.SendMessage(ctx, convID, query)
}

// recordSent bumps message_count and updated for convID in the current
// conversation and in the list, then re-sorts the list.
func recordSent(st *State, convID int, updated time.Time) {
	if cur := st.CurrentConversation; cur != nil && cur.ID == convID {
		cur.MessageCount++
		cur.Updated = updated
		if i := indexOfConversation(st.Conversations, convID); i >= 0 {
			st.Conversations[i] = *cur
			sortByUpdatedDesc(st.Conversations)
		}
		return
	}
	// The user moved to another conversation while the send was pending.
	if i := indexOfConversation(st.Conversations, convID); i >= 0 {
		st.Conversations[i].MessageCount++
		st.Conversations[i].Updated = updated
		sortByUpdatedDesc(st.Conversations)
	}
}

func isCurrent(st *State, convID int) bool {
	return st.CurrentConversation != nil && st.CurrentConversation.ID == convID
}

// syncListEntry copies the current conversation over its list entry and
// re-sorts the list.
func syncListEntry(st *State) {
	cur := st.CurrentConversation
	if cur == nil {
		return
	}
	if i := indexOfConversation(st.Conversations, cur.ID); i >= 0 {
		st.Conversations[i] = *cur
		sortByUpdatedDesc(st.Conversations)
	}
}

// nextTempIDLocked returns a negative id derived from the clock, strictly
// below every id handed out before. s.mu must be held.
func (s *ConversationStore) nextTempIDLocked() int {
	id := tempIDFromMillis(s.now().UnixMilli())
	if s.lastTempID != 0 && id >= s.lastTempID {
		id = s.lastTempID - 1
	}
	s.lastTempID = id
	return id
}

// tempIDFromMillis negates a Unix millisecond time into a temporary id. On
// platforms where int is 32 bits the time is reduced modulo math.MaxInt first
// so the result is always negative.
func tempIDFromMillis(ms int64) int {
	if ms > math.MaxInt {
		ms %= math.MaxInt
	}
	if ms <= 0 {
		return -1
	}
	return -int(ms)
}

func (s *ConversationStore) sendQueueLocked(convID int) chan struct{} {
	q, ok := s.sendQueues[convID]
	if !ok {
		q = make(chan struct{}, 1)
		s.sendQueues[convID] = q
	}
	return q
}

// UpdateConversationTitle renames a conversation. The current conversation's
// title is patched in place; the list entry is replaced by the backend's copy.
func (s *ConversationStore) UpdateConversationTitle(ctx context.Context, id int, title string) (domain.Conversation, error) {
	s.mutate(func(st *State) {
		st.Error = ""
	})

	updated, err := s.api.UpdateConversation(ctx, id, title)

	s.mutate(func(st *State) {
		if err != nil {
			st.Error = errorMessage(err, "Failed to update conversation title")
			return
		}
		if cur := st.CurrentConversation; cur != nil && cur.ID == id {
			cur.Title = title
		}
		if i := indexOfConversation(st.Conversations, id); i >= 0 {
			st.Conversations[i] = updated
		}
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return updated, nil
}

func indexOfConversation(convs []domain.Conversation, id int) int {
	return slices.IndexFunc(convs, func(c domain.Conversation) bool {
		return c.ID == id
	})
}

// sortByUpdatedDesc orders conversations most recently updated first. Ties
// keep their relative order.
func sortByUpdatedDesc(convs []domain.Conversation) {
	slices.SortStableFunc(convs, func(a, b domain.Conversation) int {
		return b.Updated.Compare(a.Updated)
	})
}
