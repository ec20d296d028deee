package kbModel

import "context"

// ConversationStore keeps per-chat history. Callers get a bounded trailing window,
// oldest turn first.
type ConversationStore interface {
	ValidateChatId(ctx context.Context, chatId string) bool
	InitNewChat(ctx context.Context, chatId string) error
	AppendTurns(ctx context.Context, chatId string, turns ...ConversationTurn) error
	GetHistory(ctx context.Context, chatId string, maxTurns int) ([]ConversationTurn, error)
}
