package store

import (
	"context"
	"encoding/json"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/data/redisStore"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/pkg/logger_i"
)

// RedisConversationStore keeps each chat as a redis list of JSON-encoded
// turns, pushed in conversation order. The whole list shares one TTL that is
// refreshed on every append, so an active chat never expires mid-session.
type RedisConversationStore struct {
	store  *redisStore.Store
	logger *logger_i.Logger
}

func GetRedisConversationStore(ctx context.Context) *RedisConversationStore {
	backing := redisStore.GetRedisStore(ctx, config.RedisMessageStore)
	if backing == nil {
		return nil
	}
	return &RedisConversationStore{
		store:  backing,
		logger: logger_i.NewLogger("ConversationStore"),
	}
}

func TestConversationStore(store *redisStore.Store) *RedisConversationStore {
	return &RedisConversationStore{
		store:  store,
		logger: logger_i.NewLogger("test redis"),
	}
}

func (s *RedisConversationStore) ValidateChatId(ctx context.Context, chatId string) bool {
	log := s.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "chat Id", chatId)
	isFound, err := s.store.Exists(ctx, chatId)
	if err != nil && !s.store.IsNil(err) {
		log.Error("Failed to check if chatId exists", "err", err)
		return false
	}
	return isFound
}

func (s *RedisConversationStore) InitNewChat(ctx context.Context, chatId string) error {
	log := s.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "chat Id", chatId)
	log.Debug("Initializing new chat")
	if err := s.store.Del(ctx, chatId); err != nil && !s.store.IsNil(err) {
		log.Error("Error clearing previous chat key", "error", err)
	}
	// Seed the key so ValidateChatId recognizes the chat before its first
	// turn lands.
	marker, _ := json.Marshal(kbModel.ConversationTurn{})
	if err := s.store.ListPush(ctx, chatId, marker); err != nil {
		return err
	}
	return s.store.Expire(ctx, chatId, config.RedisMessageStoreTTL)
}

func (s *RedisConversationStore) AppendTurns(ctx context.Context, chatId string, turns ...kbModel.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	log := s.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "chat Id", chatId)

	values := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			log.Error("Error marshalling turn", "error", err)
			return err
		}
		values = append(values, data)
	}
	if err := s.store.ListPush(ctx, chatId, values...); err != nil {
		log.Error("Error saving chat turns", "error", err)
		return err
	}
	return s.store.Expire(ctx, chatId, config.RedisMessageStoreTTL)
}

func (s *RedisConversationStore) GetHistory(ctx context.Context, chatId string, maxTurns int) ([]kbModel.ConversationTurn, error) {
	log := s.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "chat Id", chatId)

	raw, err := s.store.ListGetLastN(ctx, chatId, maxTurns)
	if err != nil {
		if s.store.IsNil(err) {
			return nil, nil
		}
		log.Error("Error getting history", "error", err)
		return nil, err
	}

	turns := make([]kbModel.ConversationTurn, 0, len(raw))
	for _, entry := range raw {
		var turn kbModel.ConversationTurn
		if err := json.Unmarshal([]byte(entry), &turn); err != nil {
			log.Error("Skipping unreadable turn", "error", err)
			continue
		}
		if turn.Role == "" {
			// init marker
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
