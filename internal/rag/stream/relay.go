// Package stream forwards a completion provider's token-delta stream to the
// caller while weaving in synthetic status and citation events. The wire shape
// is newline-delimited "data: {json}" records terminated by "data: [DONE]",
// the same framing the provider itself speaks, so downstream parsers need no
// changes to consume a relayed stream.
package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/pkg/logger_i"
)

type EventKind int

const (
	EventDelta EventKind = iota
	EventMeta
	EventDone
)

// Event is one downstream record, already framed for the wire. Line always
// ends with "\n\n".
type Event struct {
	Kind EventKind
	Line []byte
}

// Options control the synthetic events a relay injects around the upstream
// content. Sources and IndexedURLs seed the final meta event; an upstream
// meta record, if one arrives, takes precedence over the seeded values.
type Options struct {
	// Preamble is emitted as a synthetic delta before any upstream bytes,
	// e.g. an "added to knowledge base" notice.
	Preamble string
	// SourcesSuffix is emitted as a synthetic delta after the upstream
	// content, typically a citation block.
	SourcesSuffix string
	// RefusalSentence suppresses the suffix: when the accumulated answer is
	// exactly this sentence there is nothing worth citing.
	RefusalSentence string
	// SuffixOnEmptyAnswer emits the suffix even when the model produced no
	// content at all. Off by default since an empty answer with citations
	// reads like a bug.
	SuffixOnEmptyAnswer bool

	Sources     []kbModel.Source
	IndexedURLs []string
}

type relayState int

const (
	stateOpen relayState = iota
	stateDraining
	stateClosed
)

// Relay is a single-producer single-consumer pipeline over one upstream
// stream. It is pull-based: the caller loops on Next until io.EOF and writes
// each event to its own transport. Not safe for concurrent use; all decoder
// state (partial lines, partial multi-byte characters) is local to one
// instance.
type Relay struct {
	upstream io.ReadCloser
	opts     Options
	logger   *logger_i.Logger

	state        relayState
	preambleSent bool
	buf          []byte
	readBuf      []byte
	readErr      error
	answer       strings.Builder
	capturedMeta *metaPayload
	pending      []Event
}

type metaPayload struct {
	Sources     []kbModel.Source `json:"sources"`
	IndexedURLs []string         `json:"indexedUrls"`
}

// upstreamRecord covers both shapes the provider emits on the data channel:
// completion deltas and the out-of-band meta side channel.
type upstreamRecord struct {
	Meta    *metaPayload `json:"meta"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

var (
	dataMarker   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

func NewRelay(upstream io.ReadCloser, opts Options) *Relay {
	return &Relay{
		upstream: upstream,
		opts:     opts,
		logger:   logger_i.NewLogger("streamRelay"),
		readBuf:  make([]byte, 2048),
	}
}

// Next returns the next downstream event. It blocks while waiting on upstream
// bytes and returns io.EOF once the terminal done marker has been delivered.
// Any other error is a transport-level disconnect; the caller should abort
// the response.
func (r *Relay) Next() (Event, error) {
	if len(r.pending) > 0 {
		return r.popPending(), nil
	}
	if r.state == stateClosed {
		return Event{}, io.EOF
	}
	if !r.preambleSent {
		r.preambleSent = true
		if r.opts.Preamble != "" {
			return syntheticDelta(r.opts.Preamble), nil
		}
	}
	for r.state == stateOpen {
		if ev, ok := r.nextFromBuffer(); ok {
			return ev, nil
		}
		if r.state != stateOpen {
			break
		}
		if r.readErr != nil {
			if r.readErr == io.EOF {
				r.state = stateDraining
				break
			}
			r.state = stateClosed
			return Event{}, r.readErr
		}
		n, err := r.upstream.Read(r.readBuf)
		if n > 0 {
			r.buf = append(r.buf, r.readBuf[:n]...)
		}
		if err != nil {
			r.readErr = err
		}
	}
	// Draining: upstream is finished, emit the trailing synthetic events.
	r.finish()
	if len(r.pending) > 0 {
		return r.popPending(), nil
	}
	r.state = stateClosed
	return Event{}, io.EOF
}

// Close releases the upstream connection. Safe to call at any time; the
// downstream consumer cancelling mid-stream must call it so the provider
// read is not leaked.
func (r *Relay) Close() error {
	r.state = stateClosed
	return r.upstream.Close()
}

// Answer is the full accumulated model output, available once Next has
// returned io.EOF. Used for the answer cache write-back and refusal checks.
func (r *Relay) Answer() string {
	return r.answer.String()
}

func (r *Relay) popPending() Event {
	ev := r.pending[0]
	r.pending = r.pending[1:]
	return ev
}

// nextFromBuffer consumes complete lines until one produces a forwardable
// event. A line that parses as an incomplete JSON fragment is pushed back and
// rejoined with whatever arrives next.
func (r *Relay) nextFromBuffer() (Event, bool) {
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			return Event{}, false
		}
		line := bytes.TrimSuffix(r.buf[:i], []byte("\r"))
		rest := r.buf[i+1:]

		if len(bytes.TrimSpace(line)) == 0 || line[0] == ':' {
			r.buf = rest
			continue
		}
		if !bytes.HasPrefix(line, dataMarker) {
			r.buf = rest
			continue
		}
		payload := bytes.TrimPrefix(line[len(dataMarker):], []byte(" "))
		if bytes.Equal(bytes.TrimSpace(payload), doneSentinel) {
			// The provider is done. Stop reading; the relay emits its own
			// single terminal marker after the suffix and meta events.
			r.state = stateDraining
			r.buf = nil
			return Event{}, false
		}

		var rec upstreamRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			if bytes.IndexByte(rest, '\n') < 0 {
				// Nothing complete behind it, so treat it as a fragment of
				// a record still arriving. Drop the newline so the
				// continuation joins seamlessly.
				joined := make([]byte, 0, len(line)+len(rest))
				joined = append(joined, line...)
				joined = append(joined, rest...)
				r.buf = joined
				return Event{}, false
			}
			// More complete lines follow, so this record is whole and
			// simply malformed. Skip it rather than glue it onto the next
			// valid record.
			r.buf = rest
			continue
		}
		if rec.Meta != nil {
			// Side channel, not model output. Capture and swallow.
			r.capturedMeta = rec.Meta
			r.buf = rest
			continue
		}
		if len(rec.Choices) > 0 {
			r.answer.WriteString(rec.Choices[0].Delta.Content)
		}
		ev := Event{Kind: EventDelta, Line: frame(line)}
		r.buf = rest
		return ev, true
	}
}

// finish runs once upstream is exhausted: a best-effort pass over leftover
// buffered bytes, then the suffix, meta and done events in order.
func (r *Relay) finish() {
	if r.pending != nil {
		return
	}
	r.drainLeftover()
	r.pending = make([]Event, 0, 3)

	if suffix := r.opts.SourcesSuffix; suffix != "" && r.suffixAllowed() {
		r.pending = append(r.pending, syntheticDelta(suffix))
	}
	r.pending = append(r.pending, r.metaEvent())
	r.pending = append(r.pending, Event{Kind: EventDone, Line: []byte("data: [DONE]\n\n")})
}

func (r *Relay) suffixAllowed() bool {
	answer := strings.TrimSpace(r.answer.String())
	if answer == strings.TrimSpace(r.opts.RefusalSentence) && r.opts.RefusalSentence != "" {
		return false
	}
	if answer == "" {
		return r.opts.SuffixOnEmptyAnswer
	}
	return true
}

// drainLeftover parses whatever the buffer still holds. Content deltas found
// here feed the accumulated answer but are no longer forwarded; the line
// never completed on the wire.
func (r *Relay) drainLeftover() {
	for _, line := range bytes.Split(r.buf, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(bytes.TrimSpace(line)) == 0 || line[0] == ':' || !bytes.HasPrefix(line, dataMarker) {
			continue
		}
		payload := bytes.TrimPrefix(line[len(dataMarker):], []byte(" "))
		if bytes.Equal(bytes.TrimSpace(payload), doneSentinel) {
			continue
		}
		var rec upstreamRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			r.logger.Debug("Dropping unparseable trailing fragment", "bytes", len(payload))
			continue
		}
		if rec.Meta != nil {
			r.capturedMeta = rec.Meta
			continue
		}
		if len(rec.Choices) > 0 {
			r.answer.WriteString(rec.Choices[0].Delta.Content)
		}
	}
	r.buf = nil
}

func (r *Relay) metaEvent() Event {
	meta := metaPayload{
		Sources:     r.opts.Sources,
		IndexedURLs: r.opts.IndexedURLs,
	}
	if r.capturedMeta != nil {
		if r.capturedMeta.Sources != nil {
			meta.Sources = r.capturedMeta.Sources
		}
		if r.capturedMeta.IndexedURLs != nil {
			meta.IndexedURLs = r.capturedMeta.IndexedURLs
		}
	}
	if meta.Sources == nil {
		meta.Sources = []kbModel.Source{}
	}
	if meta.IndexedURLs == nil {
		meta.IndexedURLs = []string{}
	}
	body, _ := json.Marshal(struct {
		Meta metaPayload `json:"meta"`
	}{Meta: meta})
	return Event{Kind: EventMeta, Line: frame(append([]byte("data: "), body...))}
}

func syntheticDelta(content string) Event {
	body, _ := json.Marshal(upstreamDelta(content))
	return Event{Kind: EventDelta, Line: frame(append([]byte("data: "), body...))}
}

func upstreamDelta(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{"content": content}},
		},
	}
}

func frame(line []byte) []byte {
	out := make([]byte, 0, len(line)+2)
	out = append(out, line...)
	out = append(out, '\n', '\n')
	return out
}
