// Package domain contains core domain types for the CSIRT assistant.
package domain

import "time"

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderSystem Sender = "system"
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	switch s {
	case SenderSystem, SenderUser, SenderAI:
		return true
	}
	return false
}

// Message is a single chat entry. Messages are never edited once appended.
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(sender Sender, text string) Message {
	return Message{Sender: sender, Text: text, CreatedAt: time.Now().UTC()}
}
