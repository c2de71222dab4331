package domain

import (
	"strconv"
	"time"
)

// ChatMessage is the display shape of one side of an exchange. Each Message
// yields a user ChatMessage followed by a bot ChatMessage.
type ChatMessage struct {
	ID        string    `json:"id" yaml:"id"`
	MessageID int       `json:"message_id" yaml:"message_id"`
	Text      string    `json:"text" yaml:"text"`
	IsUser    bool      `json:"is_user" yaml:"is_user"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Sources   []Source  `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// UserChatMessageID returns the synthetic id of the user side of a message.
func UserChatMessageID(messageID int) string {
	return strconv.Itoa(messageID) + "-user"
}

// BotChatMessageID returns the synthetic id of the bot side of a message.
func BotChatMessageID(messageID int) string {
	return strconv.Itoa(messageID) + "-bot"
}

// UserChatMessage builds the user side of an exchange.
func UserChatMessage(messageID int, query string, ts time.Time) ChatMessage {
	return ChatMessage{
		ID:        UserChatMessageID(messageID),
		MessageID: messageID,
		Text:      query,
		IsUser:    true,
		Timestamp: ts,
	}
}

// BotChatMessage builds the bot side of an exchange.
func BotChatMessage(messageID int, response string, ts time.Time, sources []Source) ChatMessage {
	return ChatMessage{
		ID:        BotChatMessageID(messageID),
		MessageID: messageID,
		Text:      response,
		IsUser:    false,
		Timestamp: ts,
		Sources:   sources,
	}
}

// ToChatMessages splits a backend message into its user and bot turns.
func ToChatMessages(m Message) [2]ChatMessage {
	return [2]ChatMessage{
		UserChatMessage(m.ID, m.Query, m.Created),
		BotChatMessage(m.ID, m.Response, m.Created, m.Sources),
	}
}

// ExpandMessages flattens messages into chat messages, preserving order.
func ExpandMessages(msgs []Message) []ChatMessage {
	out := make([]ChatMessage, 0, 2*len(msgs))
	for _, m := range msgs {
		pair := ToChatMessages(m)
		out = append(out, pair[0], pair[1])
	}
	return out
}
