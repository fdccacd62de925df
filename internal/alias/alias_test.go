package alias

import (
	"fmt"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase_passthrough", "gpt4", "gpt4"},
		{"uppercase", "GPT4", "gpt4"},
		{"punctuation_stripped", "GPT-4", "gpt4"},
		{"spaces_stripped", "Claude 3.5 Sonnet", "claude35sonnet"},
		{"mixed_symbols", "  llama_3:70b!  ", "llama370b"},
		{"empty", "", ""},
		{"only_symbols", "@#$%", ""},
		{"unicode_letters_kept", "Café", "café"},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	n := NewNormalizer()
	inputs := []string{"GPT-4", "Claude 3.5 Sonnet", "bot_7", "MIXED case"}
	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestNormalizeCaseAndPunctuationInsensitive(t *testing.T) {
	n := NewNormalizer()
	if a, b := n.Normalize("GPT-4"), n.Normalize("gpt4"); a != b {
		t.Errorf("Normalize(\"GPT-4\") = %q, Normalize(\"gpt4\") = %q, want equal", a, b)
	}
}

func TestNormalizeCacheHit(t *testing.T) {
	n := NewNormalizer()
	n.Normalize("GPT-4")
	before := n.size()
	n.Normalize("GPT-4")
	if after := n.size(); after != before {
		t.Errorf("repeated Normalize grew cache from %d to %d", before, after)
	}
}

func TestNormalizeCachePrune(t *testing.T) {
	n := NewNormalizer()
	for i := 0; i < maxCacheEntries; i++ {
		n.Normalize(fmt.Sprintf("alias-%d", i))
	}
	if got := n.size(); got != maxCacheEntries {
		t.Fatalf("cache size = %d, want %d before prune", got, maxCacheEntries)
	}

	// One more insert triggers the prune: the older half goes, the newer
	// half plus the new entry stay.
	n.Normalize("straw")
	want := maxCacheEntries/2 + 1
	if got := n.size(); got != want {
		t.Errorf("cache size after prune = %d, want %d", got, want)
	}

	// A recently inserted key must survive the prune.
	recent := fmt.Sprintf("alias-%d", maxCacheEntries-1)
	n.mu.Lock()
	_, ok := n.cache[recent]
	n.mu.Unlock()
	if !ok {
		t.Errorf("recent key %q evicted by prune", recent)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"spaces_and_dots", "Claude 3.5 Sonnet", "claude-3-5-sonnet"},
		{"already_slug", "gpt-4", "gpt-4"},
		{"leading_trailing_junk", "  **Bot**  ", "bot"},
		{"collapsed_runs", "a---b___c", "a-b-c"},
		{"empty", "", ""},
		{"only_symbols", "!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slug(tt.input); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMentionToken(t *testing.T) {
	if got := MentionToken("Claude 3.5 Sonnet"); got != "@claude-3-5-sonnet" {
		t.Errorf("MentionToken() = %q, want %q", got, "@claude-3-5-sonnet")
	}
	if got := MentionToken("##"); got != "" {
		t.Errorf("MentionToken(%q) = %q, want empty", "##", got)
	}
}
