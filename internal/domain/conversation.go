package domain

import "time"

// Conversation is a thread of exchanges as reported by the chat backend.
type Conversation struct {
	ID           int       `json:"conversation_pk" yaml:"conversation_pk"`
	Title        string    `json:"title" yaml:"title"`
	Created      time.Time `json:"created" yaml:"created"`
	Updated      time.Time `json:"updated" yaml:"updated"`
	MessageCount int       `json:"message_count" yaml:"message_count"`
}

// Message is one backend-recorded query/response exchange.
type Message struct {
	ID             int       `json:"id" yaml:"id"`
	ConversationID int       `json:"conversation_id" yaml:"conversation_id"`
	Query          string    `json:"query" yaml:"query"`
	Response       string    `json:"response" yaml:"response"`
	Created        time.Time `json:"created" yaml:"created"`
	Sources        []Source  `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Source is citation metadata attached to a bot response.
type Source struct {
	Source string `json:"source" yaml:"source"`
	Link   string `json:"link" yaml:"link"`
	Title  string `json:"title" yaml:"title"`
}
