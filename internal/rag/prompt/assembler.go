package prompt

import (
	"fmt"
	"strings"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/kbModel"
)

// Grounded is the finished prompt: policy instructions, the bounded history
// window, then the question+context payload as the final user message.
type Grounded struct {
	SystemInstructions string
	History            []kbModel.ConversationTurn
	UserPayload        string
}

// Messages flattens history plus the grounded payload in model order.
func (g Grounded) Messages() []kbModel.ConversationTurn {
	out := make([]kbModel.ConversationTurn, 0, len(g.History)+1)
	out = append(out, g.History...)
	out = append(out, kbModel.ConversationTurn{Role: kbModel.RoleUser, Content: g.UserPayload})
	return out
}

var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {},
	"good morning": {}, "good afternoon": {}, "good evening": {},
	"thanks": {}, "thank you": {}, "bye": {}, "goodbye": {},
}

// IsGreeting reports whether a message is a bare courtesy phrase. Such messages
// are exempt from grounding and need no retrieval at all.
func IsGreeting(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, "!.,?")
	normalized = strings.Join(strings.Fields(normalized), " ")
	_, ok := greetings[normalized]
	return ok
}

// BuildGroundedPrompt assembles the KB-bound prompt. The grounding rules live in
// the instructions, not in code: answer only from the supplied context, refuse
// verbatim when it cannot support an answer, greetings exempt, cite with numeric
// brackets resolvable against the sources list, reply in the user's language.
func BuildGroundedPrompt(question string, passages []kbModel.Passage, sources []kbModel.Source, history []kbModel.ConversationTurn) Grounded {
	if len(history) > config.HistoryWindowTurns {
		history = history[len(history)-config.HistoryWindowTurns:]
	}

	return Grounded{
		SystemInstructions: systemInstructions(sources),
		History:            history,
		UserPayload:        userPayload(question, passages),
	}
}

func systemInstructions(sources []kbModel.Source) string {
	var b strings.Builder
	b.WriteString(`You are a Retrieval-Augmented AI assistant. You must only answer questions using the content retrieved from the Knowledge Base (KB).

- If the user's message is a greeting or a polite phrase such as "hello", "hi", "good morning", "thanks", "thank you", respond naturally and politely, without requiring KB evidence.
- For any informational or factual question, rely strictly on the retrieved KB content provided in the Context section.
- You are forbidden from inventing or assuming facts. No hallucinations.
- If the Context does not contain the information needed, reply with exactly:
  "` + config.RefusalSentence + `"
- Answer in the same language the user wrote in.
- When you use a context passage, cite it with its bracket number, e.g. [1]. Cite only sources you actually used.
- Never cite or reference the KB itself as a source - only answer using its content.

`)

	if len(sources) > 0 {
		b.WriteString("The bracket numbers resolve to these sources:\n")
		for i, s := range sources {
			if s.Category != "" {
				fmt.Fprintf(&b, "[%d] %s (%s)\n", i+1, s.File, s.Category)
			} else {
				fmt.Fprintf(&b, "[%d] %s\n", i+1, s.File)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// userPayload labels every context passage with its source ref, not its own
// position, so the bracket numbers the model sees line up with the sources
// legend and with the streamed Sources suffix.
func userPayload(question string, passages []kbModel.Passage) string {
	if len(passages) == 0 {
		return fmt.Sprintf("Question: %s\n\nContext:\n(no relevant content retrieved)", question)
	}

	var ctx strings.Builder
	for _, p := range passages {
		fmt.Fprintf(&ctx, "[%d] %s\n\n", p.SourceRef, p.Content)
	}
	return fmt.Sprintf("Question: %s\n\nContext:\n%s", question, strings.TrimSpace(ctx.String()))
}
