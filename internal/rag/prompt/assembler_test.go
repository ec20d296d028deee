package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/kbModel"
)

func TestBuildGroundedPrompt_Payload(t *testing.T) {
	g := BuildGroundedPrompt(
		"what do you offer?",
		[]kbModel.Passage{
			{Content: "We offer consulting.", SourceRef: 1},
			{Content: "We offer support.", SourceRef: 1},
		},
		[]kbModel.Source{{File: "Services (example.com)", Category: "web_page"}},
		nil,
	)

	if !strings.Contains(g.UserPayload, "Question: what do you offer?") {
		t.Errorf("payload missing question: %q", g.UserPayload)
	}
	if !strings.Contains(g.UserPayload, "[1] We offer consulting.") ||
		!strings.Contains(g.UserPayload, "[1] We offer support.") {
		t.Errorf("payload missing numbered context: %q", g.UserPayload)
	}
	if !strings.Contains(g.SystemInstructions, config.RefusalSentence) {
		t.Error("instructions missing the verbatim refusal sentence")
	}
	if !strings.Contains(g.SystemInstructions, "[1] Services (example.com) (web_page)") {
		t.Errorf("instructions missing source legend: %q", g.SystemInstructions)
	}
}

func TestBuildGroundedPrompt_RepeatedSourceKeepsCitationsResolvable(t *testing.T) {
	// Two chunks of a.md plus one of b.md: every bracket the model can cite
	// must appear in the legend, so the second a.md chunk is [1], not [3].
	g := BuildGroundedPrompt(
		"how do refunds work?",
		[]kbModel.Passage{
			{Content: "first chunk from a", SourceRef: 1},
			{Content: "chunk from b", SourceRef: 2},
			{Content: "second chunk from a", SourceRef: 1},
		},
		[]kbModel.Source{{File: "a.md"}, {File: "b.md"}},
		nil,
	)

	if !strings.Contains(g.UserPayload, "[1] second chunk from a") {
		t.Errorf("repeated source not labeled with its legend index: %q", g.UserPayload)
	}
	if strings.Contains(g.UserPayload, "[3]") {
		t.Errorf("payload references a bracket the legend cannot resolve: %q", g.UserPayload)
	}
	if !strings.Contains(g.SystemInstructions, "[2] b.md") || strings.Contains(g.SystemInstructions, "[3]") {
		t.Errorf("legend out of step with payload numbering: %q", g.SystemInstructions)
	}
}

func TestBuildGroundedPrompt_EmptyContext(t *testing.T) {
	g := BuildGroundedPrompt("anything?", nil, nil, nil)
	if !strings.Contains(g.UserPayload, "(no relevant content retrieved)") {
		t.Errorf("empty context not marked: %q", g.UserPayload)
	}
}

func TestBuildGroundedPrompt_HistoryWindow(t *testing.T) {
	var history []kbModel.ConversationTurn
	for i := 0; i < config.HistoryWindowTurns+6; i++ {
		history = append(history, kbModel.ConversationTurn{
			Role:    kbModel.RoleUser,
			Content: fmt.Sprintf("turn %d", i),
		})
	}

	g := BuildGroundedPrompt("q", nil, nil, history)
	if len(g.History) != config.HistoryWindowTurns {
		t.Fatalf("history window = %d; want %d", len(g.History), config.HistoryWindowTurns)
	}
	//trailing window: the last turn survives, the first is dropped
	if g.History[len(g.History)-1].Content != fmt.Sprintf("turn %d", config.HistoryWindowTurns+5) {
		t.Errorf("window did not keep the most recent turns: %+v", g.History[len(g.History)-1])
	}
}

func TestGroundedMessages_Order(t *testing.T) {
	history := []kbModel.ConversationTurn{
		{Role: kbModel.RoleUser, Content: "earlier question"},
		{Role: kbModel.RoleAssistant, Content: "earlier answer"},
	}
	g := BuildGroundedPrompt("followup", []kbModel.Passage{{Content: "doc", SourceRef: 1}}, nil, history)

	msgs := g.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages; want 3", len(msgs))
	}
	if msgs[0].Content != "earlier question" || msgs[1].Content != "earlier answer" {
		t.Error("history not inserted before the grounded payload")
	}
	if msgs[2].Role != kbModel.RoleUser || !strings.Contains(msgs[2].Content, "followup") {
		t.Errorf("final message is not the grounded payload: %+v", msgs[2])
	}
}

func TestIsGreeting(t *testing.T) {
	greetings := []string{"hi", "Hello!", "  hey ", "GOOD MORNING", "thank you.", "Thanks!!"}
	for _, msg := range greetings {
		if !IsGreeting(msg) {
			t.Errorf("IsGreeting(%q) = false, want true", msg)
		}
	}
	questions := []string{"hi, what services do you offer?", "hello world program", "", "what is hi in French?"}
	for _, msg := range questions {
		if IsGreeting(msg) {
			t.Errorf("IsGreeting(%q) = true, want false", msg)
		}
	}
}
