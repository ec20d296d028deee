package kbModel

// Chunk is a byte-bounded slice of a larger document, the unit the vector index
// stores and embeds. Chunks are immutable once produced and keep original order.
type Chunk struct {
	Text       string `json:"text"`
	ByteLength int    `json:"byte_length"`
	Index      int    `json:"index"`
}

// DocumentMeta tags every chunk of one ingested source in the index payload.
type DocumentMeta struct {
	SourceFile string `json:"source_file"`
	Category   string `json:"category,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
}

// RetrievedMatch is one scored hit coming back from the index.
type RetrievedMatch struct {
	Score      float32 `json:"score"`
	Content    string  `json:"content"`
	SourceFile string  `json:"source_file"`
	Category   string  `json:"category,omitempty"`
	SourceURL  string  `json:"source_url,omitempty"`
}

// Source is one citable origin, deduplicated by SourceFile (first seen wins).
type Source struct {
	File     string `json:"file"`
	Category string `json:"category,omitempty"`
}

// Passage is one retained context chunk together with the 1-based index of its
// origin in the deduplicated sources list. Two chunks from the same file share
// one SourceRef, so every citation number in a prompt resolves to exactly one
// source.
type Passage struct {
	Content   string `json:"content"`
	SourceRef int    `json:"source_ref"`
}

// ConversationTurn is one prior message in the bounded history window.
type ConversationTurn struct {
	Role    string `json:"role"` //"user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// IngestResult reports one URL ingestion. AlreadyIndexed means the source_url was
// found by a live index existence check and no scrape was issued.
type IngestResult struct {
	Title          string `json:"title"`
	SourceFile     string `json:"source_file"`
	ChunkCount     int    `json:"chunk_count"`
	AlreadyIndexed bool   `json:"already_indexed"`
}
