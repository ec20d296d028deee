package store_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/data/redisStore"
	"github.com/adevara/GoKB/internal/data/store"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newConversationStore(t *testing.T) *store.RedisConversationStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.TestConversationStore(redisStore.NewTestStore(client))
}

func TestConversationStore_Lifecycle(t *testing.T) {
	convStore := newConversationStore(t)
	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, "test-trace")
	chatID := "chat_42"

	if convStore.ValidateChatId(ctx, chatID) {
		t.Error("chat valid before init")
	}
	if err := convStore.InitNewChat(ctx, chatID); err != nil {
		t.Fatalf("InitNewChat: %v", err)
	}
	if !convStore.ValidateChatId(ctx, chatID) {
		t.Error("chat invalid after init")
	}

	err := convStore.AppendTurns(ctx, chatID,
		kbModel.ConversationTurn{Role: kbModel.RoleUser, Content: "What is the return policy?"},
		kbModel.ConversationTurn{Role: kbModel.RoleAssistant, Content: "30 days [1]."},
	)
	if err != nil {
		t.Fatalf("AppendTurns: %v", err)
	}

	history, err := convStore.GetHistory(ctx, chatID, 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d turns; want 2", len(history))
	}
	if history[0].Role != kbModel.RoleUser || history[1].Role != kbModel.RoleAssistant {
		t.Errorf("turn order wrong: %+v", history)
	}
}

func TestConversationStore_WindowKeepsLatestTurns(t *testing.T) {
	convStore := newConversationStore(t)
	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, "test-trace")
	chatID := "chat_window"

	if err := convStore.InitNewChat(ctx, chatID); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		err := convStore.AppendTurns(ctx, chatID,
			kbModel.ConversationTurn{Role: kbModel.RoleUser, Content: fmt.Sprintf("q%d", i)},
			kbModel.ConversationTurn{Role: kbModel.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
		)
		if err != nil {
			t.Fatal(err)
		}
	}

	history, err := convStore.GetHistory(ctx, chatID, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 4 {
		t.Fatalf("got %d turns; want the trailing 4", len(history))
	}
	if history[0].Content != "q6" || history[3].Content != "a7" {
		t.Errorf("window did not keep the latest turns: %+v", history)
	}
}

func TestConversationStore_FullWindowNotShortedByInitMarker(t *testing.T) {
	// The init marker sits at the head of the list. A chat holding exactly
	// maxTurns real turns must still yield all of them, because the
	// trailing window excludes the marker once enough real turns exist.
	convStore := newConversationStore(t)
	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, "test-trace")
	chatID := "chat_exact"

	if err := convStore.InitNewChat(ctx, chatID); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		err := convStore.AppendTurns(ctx, chatID,
			kbModel.ConversationTurn{Role: kbModel.RoleUser, Content: fmt.Sprintf("q%d", i)},
			kbModel.ConversationTurn{Role: kbModel.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
		)
		if err != nil {
			t.Fatal(err)
		}
	}

	history, err := convStore.GetHistory(ctx, chatID, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 4 {
		t.Fatalf("got %d turns; want all 4 at a full window", len(history))
	}
	if history[0].Content != "q0" || history[3].Content != "a1" {
		t.Errorf("unexpected window contents: %+v", history)
	}

	// One turn short of the window: the marker enters the fetched range
	// but is filtered, and every real turn is still returned.
	short, err := convStore.GetHistory(ctx, chatID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(short) != 4 {
		t.Fatalf("got %d turns; want all 4 real turns when the list is shorter than the window", len(short))
	}
}

func TestConversationStore_HistoryForUnknownChat(t *testing.T) {
	convStore := newConversationStore(t)
	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, "test-trace")

	history, err := convStore.GetHistory(ctx, "nope", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("got %d turns for unknown chat", len(history))
	}
}
