// Package alias canonicalizes free-text participant identifiers so that
// "GPT-4", "gpt4" and "Gpt 4!" all resolve to the same key during mention
// matching. Normalization results are memoized because the same aliases are
// looked up on every inbound message.
package alias

import (
	"strings"
	"sync"
	"unicode"
)

// maxCacheEntries bounds the memoization cache. When the cache grows past
// this size the older half of the entries is discarded.
const maxCacheEntries = 512

// Normalizer lowercases identifiers and strips every non-alphanumeric rune,
// caching results keyed by the raw input.
type Normalizer struct {
	mu    sync.Mutex
	cache map[string]string
	order []string // raw inputs in insertion order, oldest first
}

// NewNormalizer creates a Normalizer with an empty cache.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		cache: make(map[string]string, 64),
	}
}

// Normalize returns the canonical form of text: lowercase with all
// non-alphanumeric runes removed. Idempotent: Normalize(Normalize(x)) ==
// Normalize(x).
func (n *Normalizer) Normalize(text string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if cached, ok := n.cache[text]; ok {
		return cached
	}

	normalized := normalize(text)

	if len(n.cache) >= maxCacheEntries {
		n.pruneLocked()
	}
	n.cache[text] = normalized
	n.order = append(n.order, text)
	return normalized
}

// pruneLocked drops the older half of the cache, keeping the most recently
// inserted entries. Caller must hold n.mu.
func (n *Normalizer) pruneLocked() {
	keep := len(n.order) / 2
	for _, raw := range n.order[:len(n.order)-keep] {
		delete(n.cache, raw)
	}
	n.order = append([]string(nil), n.order[len(n.order)-keep:]...)
}

// size reports the number of cached entries. Test hook.
func (n *Normalizer) size() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.cache)
}

func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Slug converts a display alias into a mention-safe token body: lowercase,
// runs of non-alphanumerics collapsed to a single '-', trimmed of leading
// and trailing '-'. "Claude 3.5 Sonnet" becomes "claude-3-5-sonnet".
func Slug(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	dash := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}

// MentionToken returns the canonical @token for a display alias, or "" when
// the alias contains no usable characters.
func MentionToken(aliasText string) string {
	slug := Slug(aliasText)
	if slug == "" {
		return ""
	}
	return "@" + slug
}
