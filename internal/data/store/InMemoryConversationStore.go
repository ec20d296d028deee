package store

import (
	"context"
	"sync"

	"github.com/adevara/GoKB/internal/domain/kbModel"
)

type InMemoryConversationStore struct {
	chatLock *sync.RWMutex
	chatMap  map[string][]kbModel.ConversationTurn
}

func InitInMemoryConversationStore() *InMemoryConversationStore {
	return &InMemoryConversationStore{
		chatLock: new(sync.RWMutex),
		chatMap:  make(map[string][]kbModel.ConversationTurn),
	}
}

func (store *InMemoryConversationStore) ValidateChatId(ctx context.Context, chatId string) bool {
	store.chatLock.RLock()
	defer store.chatLock.RUnlock()
	_, ok := store.chatMap[chatId]
	return ok
}

func (store *InMemoryConversationStore) InitNewChat(ctx context.Context, chatId string) error {
	store.chatLock.Lock()
	defer store.chatLock.Unlock()
	store.chatMap[chatId] = make([]kbModel.ConversationTurn, 0)
	return nil
}

func (store *InMemoryConversationStore) AppendTurns(ctx context.Context, chatId string, turns ...kbModel.ConversationTurn) error {
	store.chatLock.Lock()
	defer store.chatLock.Unlock()
	store.chatMap[chatId] = append(store.chatMap[chatId], turns...)
	return nil
}

func (store *InMemoryConversationStore) GetHistory(ctx context.Context, chatId string, maxTurns int) ([]kbModel.ConversationTurn, error) {
	store.chatLock.RLock()
	defer store.chatLock.RUnlock()
	turns := store.chatMap[chatId]
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	out := make([]kbModel.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}
