package kbModel

// CachedAnswer is a previously generated answer stored in the semantic cache,
// keyed by the query embedding. Sources ride along so a cache hit can still cite.
type CachedAnswer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources,omitempty"`
}
