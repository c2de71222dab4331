package usecase

import (
	"slices"

	"chat-client/internal/domain"
)

// provisionalTx is a local transaction over a message list. A provisional
// entry is appended up front; it is later either committed, replacing it in
// its slot with the confirmed entries, or rolled back, removing it. Entries are
// located by id so other appends or removals in between do not matter.
type provisionalTx struct {
	id string
}

func beginProvisional(msgs *[]domain.ChatMessage, m domain.ChatMessage) provisionalTx {
	*msgs = append(*msgs, m)
	return provisionalTx{id: m.ID}
}

// commit reports false when the provisional entry is gone, e.g. because the
// list was replaced by loading another conversation.
func (tx provisionalTx) commit(msgs *[]domain.ChatMessage, confirmed ...domain.ChatMessage) bool {
	i := indexOfChatMessage(*msgs, tx.id)
	if i < 0 {
		return false
	}
	out := make([]domain.ChatMessage, 0, len(*msgs)-1+len(confirmed))
	out = append(out, (*msgs)[:i]...)
	out = append(out, confirmed...)
	out = append(out, (*msgs)[i+1:]...)
	*msgs = out
	return true
}

func (tx provisionalTx) rollback(msgs *[]domain.ChatMessage) bool {
	i := indexOfChatMessage(*msgs, tx.id)
	if i < 0 {
		return false
	}
	*msgs = slices.Delete(slices.Clone(*msgs), i, i+1)
	return true
}

func indexOfChatMessage(msgs []domain.ChatMessage, id string) int {
	return slices.IndexFunc(msgs, func(m domain.ChatMessage) bool {
		return m.ID == id
	})
}
