package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/adevara/GoKB/internal/domain/kbModel"
)

// chunkReader yields its chunks one Read at a time, then io.EOF. It lets
// tests control exactly where the upstream byte stream is split.
type chunkReader struct {
	chunks [][]byte
	closed bool
}

func newChunkReader(chunks ...string) *chunkReader {
	c := &chunkReader{}
	for _, ch := range chunks {
		c.chunks = append(c.chunks, []byte(ch))
	}
	return c
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *chunkReader) Close() error {
	c.closed = true
	return nil
}

func delta(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

// collect drains the relay and returns all events in order.
func collect(t *testing.T, r *Relay) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
	}
}

// deltaContent re-parses a forwarded delta line and returns its content.
func deltaContent(t *testing.T, ev Event) string {
	t.Helper()
	payload := strings.TrimPrefix(strings.TrimSpace(string(ev.Line)), "data: ")
	var rec upstreamRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		t.Fatalf("unparseable delta line %q: %v", ev.Line, err)
	}
	if len(rec.Choices) == 0 {
		return ""
	}
	return rec.Choices[0].Delta.Content
}

func joinedContent(t *testing.T, events []Event) string {
	t.Helper()
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == EventDelta {
			b.WriteString(deltaContent(t, ev))
		}
	}
	return b.String()
}

func TestRelay_ForwardsDeltasAndTerminates(t *testing.T) {
	up := newChunkReader(delta("Hello") + delta(" world") + "data: [DONE]\n\n")
	r := NewRelay(up, Options{})

	events := collect(t, r)
	if got := joinedContent(t, events); got != "Hello world" {
		t.Errorf("content = %q; want %q", got, "Hello world")
	}

	var metas, dones int
	for _, ev := range events {
		switch ev.Kind {
		case EventMeta:
			metas++
		case EventDone:
			dones++
		}
	}
	if metas != 1 || dones != 1 {
		t.Errorf("got %d meta and %d done events; want exactly 1 each", metas, dones)
	}
	last := events[len(events)-1]
	if last.Kind != EventDone || string(last.Line) != "data: [DONE]\n\n" {
		t.Errorf("stream did not end with the done marker: %q", last.Line)
	}
	if r.Answer() != "Hello world" {
		t.Errorf("Answer() = %q", r.Answer())
	}
}

func TestRelay_SplitPointInvariance(t *testing.T) {
	full := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" + "data: [DONE]\n\n"

	for split := 1; split < len(full); split++ {
		up := newChunkReader(full[:split], full[split:])
		r := NewRelay(up, Options{})
		events := collect(t, r)
		if got := joinedContent(t, events); got != "Hi" {
			t.Errorf("split at %d: content = %q; want %q", split, got, "Hi")
		}
	}
}

func TestRelay_MultiByteSplitAcrossChunks(t *testing.T) {
	line := delta("日本語")
	// Split in the middle of a UTF-8 sequence inside the JSON payload.
	mid := strings.IndexRune(line, '本') + 1
	up := newChunkReader(line[:mid], line[mid:], "data: [DONE]\n\n")
	r := NewRelay(up, Options{})

	if got := joinedContent(t, collect(t, r)); got != "日本語" {
		t.Errorf("content = %q; want %q", got, "日本語")
	}
}

func TestRelay_PreambleFirst(t *testing.T) {
	up := newChunkReader(delta("answer") + "data: [DONE]\n\n")
	r := NewRelay(up, Options{Preamble: "added to knowledge base: example.com\n\n"})

	events := collect(t, r)
	if len(events) == 0 || events[0].Kind != EventDelta {
		t.Fatal("no leading delta event")
	}
	if got := deltaContent(t, events[0]); !strings.HasPrefix(got, "added to knowledge base") {
		t.Errorf("first delta = %q; want the preamble", got)
	}
	if r.Answer() != "answer" {
		t.Errorf("preamble leaked into the accumulated answer: %q", r.Answer())
	}
}

func TestRelay_SuffixAfterContent(t *testing.T) {
	up := newChunkReader(delta("grounded answer") + "data: [DONE]\n\n")
	r := NewRelay(up, Options{SourcesSuffix: "\n\nSources:\n[1] guide.pdf"})

	events := collect(t, r)
	if got := joinedContent(t, events); !strings.HasSuffix(got, "[1] guide.pdf") {
		t.Errorf("suffix missing from stream: %q", got)
	}
}

func TestRelay_NoSuffixOnRefusal(t *testing.T) {
	refusal := "I'm sorry, I don't have enough information in my knowledge base to answer this."
	up := newChunkReader(delta(refusal) + "data: [DONE]\n\n")
	r := NewRelay(up, Options{
		SourcesSuffix:   "\n\nSources:\n[1] guide.pdf",
		RefusalSentence: refusal,
	})

	if got := joinedContent(t, collect(t, r)); got != refusal {
		t.Errorf("refusal answer was decorated with a suffix: %q", got)
	}
}

func TestRelay_NoSuffixOnEmptyAnswerByDefault(t *testing.T) {
	up := newChunkReader("data: [DONE]\n\n")
	r := NewRelay(up, Options{SourcesSuffix: "Sources: [1] guide.pdf"})

	if got := joinedContent(t, collect(t, r)); got != "" {
		t.Errorf("empty answer was decorated with a suffix: %q", got)
	}

	up2 := newChunkReader("data: [DONE]\n\n")
	r2 := NewRelay(up2, Options{SourcesSuffix: "Sources: [1] guide.pdf", SuffixOnEmptyAnswer: true})
	if got := joinedContent(t, collect(t, r2)); got == "" {
		t.Error("SuffixOnEmptyAnswer did not force the suffix")
	}
}

func TestRelay_MetaCapturedNotForwarded(t *testing.T) {
	metaLine := "data: {\"meta\":{\"sources\":[{\"file\":\"guide.pdf\"}],\"indexedUrls\":[\"https://example.com\"]}}\n\n"
	up := newChunkReader(delta("text") + metaLine + "data: [DONE]\n\n")
	r := NewRelay(up, Options{Sources: []kbModel.Source{{File: "seeded.txt"}}})

	events := collect(t, r)
	if got := joinedContent(t, events); got != "text" {
		t.Errorf("meta record leaked into content: %q", got)
	}

	var meta Event
	for _, ev := range events {
		if ev.Kind == EventMeta {
			meta = ev
		}
	}
	payload := strings.TrimPrefix(strings.TrimSpace(string(meta.Line)), "data: ")
	var rec struct {
		Meta metaPayload `json:"meta"`
	}
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		t.Fatalf("meta event unparseable: %v", err)
	}
	if len(rec.Meta.Sources) != 1 || rec.Meta.Sources[0].File != "guide.pdf" {
		t.Errorf("upstream meta did not override the seeded sources: %+v", rec.Meta)
	}
	if len(rec.Meta.IndexedURLs) != 1 || rec.Meta.IndexedURLs[0] != "https://example.com" {
		t.Errorf("indexedUrls = %v", rec.Meta.IndexedURLs)
	}
}

func TestRelay_SeededMetaWhenUpstreamSilent(t *testing.T) {
	up := newChunkReader(delta("x") + "data: [DONE]\n\n")
	r := NewRelay(up, Options{
		Sources:     []kbModel.Source{{File: "faq.md", Category: "docs"}},
		IndexedURLs: []string{"https://a.example"},
	})

	events := collect(t, r)
	var meta *Event
	for i := range events {
		if events[i].Kind == EventMeta {
			meta = &events[i]
		}
	}
	if meta == nil {
		t.Fatal("no meta event emitted")
	}
	var rec struct {
		Meta metaPayload `json:"meta"`
	}
	payload := strings.TrimPrefix(strings.TrimSpace(string(meta.Line)), "data: ")
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.Meta.Sources) != 1 || rec.Meta.Sources[0].File != "faq.md" {
		t.Errorf("sources = %+v", rec.Meta.Sources)
	}
}

func TestRelay_SkipsCommentsAndBlankLines(t *testing.T) {
	up := newChunkReader(": keepalive\n\n" + delta("ok") + "\n: ping\n" + "data: [DONE]\n\n")
	r := NewRelay(up, Options{})

	if got := joinedContent(t, collect(t, r)); got != "ok" {
		t.Errorf("content = %q; want %q", got, "ok")
	}
}

func TestRelay_RebuffersPartialRecordWithoutNewline(t *testing.T) {
	// The record arrives as two reads with no newline between them. The
	// fragment must be held, not dropped.
	head := "data: {\"choices\":[{\"delta\":{\"con"
	tail := "tent\":\"joined\"}}]}\n\ndata: [DONE]\n\n"
	up := newChunkReader(head, tail)
	r := NewRelay(up, Options{})

	if got := joinedContent(t, collect(t, r)); got != "joined" {
		t.Errorf("content = %q; want %q", got, "joined")
	}
}

func TestRelay_SkipsMalformedRecordBeforeValidOne(t *testing.T) {
	// A complete but unparseable record lands in the same read as a valid
	// one. It must be skipped in place, not glued onto the record behind it.
	up := newChunkReader("data: {\"choices\":[{\"delta\"#broken]}\n\n" + delta("survives") + "data: [DONE]\n\n")
	r := NewRelay(up, Options{})

	if got := joinedContent(t, collect(t, r)); got != "survives" {
		t.Errorf("content = %q; want %q", got, "survives")
	}
}

func TestRelay_FlushParsesTrailingRecord(t *testing.T) {
	// Upstream disconnects after a complete record that never got its
	// trailing newline and never sent the sentinel. The flush pass still
	// accounts for its content in the accumulated answer.
	up := newChunkReader(delta("seen ") + "data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}")
	r := NewRelay(up, Options{})

	collect(t, r)
	if r.Answer() != "seen tail" {
		t.Errorf("Answer() = %q; want %q", r.Answer(), "seen tail")
	}
}

func TestRelay_CloseReleasesUpstream(t *testing.T) {
	up := newChunkReader(delta("x"))
	r := NewRelay(up, Options{})
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !up.closed {
		t.Error("upstream not closed")
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next after Close = %v; want io.EOF", err)
	}
}
