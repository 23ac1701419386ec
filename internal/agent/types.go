// Package agent streams CSIRT assistant replies from a chat-completion model.
package agent

import (
	"errors"

	"github.com/ashureev/csirt-labs/internal/domain"
)

// Persona is the fixed system prompt placed before every conversation.
const Persona = "あなたはCSIRT（Computer Security Incident Response Team）のAIアシスタントです。" +
	"ウイルス感染が検知された端末のユーザーへ冷静かつ的確な初動対応を案内してください。"

// ErrStream marks a failure of the assistant token stream.
var ErrStream = errors.New("assistant stream failed")

// Role is a chat-completion message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a prompt.
type Turn struct {
	Role    Role
	Content string
}

// Prompt is the full message list sent to the model.
type Prompt struct {
	Turns []Turn
}

// RoleFor maps a chat sender to a model role. Only the user speaks as "user";
// system notices and AI replies are both presented as the assistant.
func RoleFor(sender domain.Sender) Role {
	if sender == domain.SenderUser {
		return RoleUser
	}
	return RoleAssistant
}

// BuildPrompt prepends the persona to the given messages.
func BuildPrompt(recent []domain.Message) Prompt {
	turns := make([]Turn, 0, len(recent)+1)
	turns = append(turns, Turn{Role: RoleSystem, Content: Persona})
	for _, m := range recent {
		turns = append(turns, Turn{Role: RoleFor(m.Sender), Content: m.Text})
	}
	return Prompt{Turns: turns}
}
