// Package mention detects references to conversation participants inside a
// message. Three detection tiers run in order, strongest first: explicit
// @tokens, implicit whole-word name matches, and contextual back-reference
// phrases attributed to the most recent other speaker.
package mention

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/parlor-dev/parlor/internal/alias"
)

// Type enumerates how a mention was detected.
type Type string

const (
	TypeDirect   Type = "direct"
	TypeIndirect Type = "indirect"
	TypeContext  Type = "context"
)

// Confidence assigned per detection tier.
const (
	ConfidenceExplicit   = 0.9
	ConfidenceImplicit   = 0.7
	ConfidenceContextual = 0.4
)

// Participant is the identity surface the resolver matches against.
type Participant struct {
	ID       string
	Alias    string
	Provider string
}

// Data is one detected mention.
type Data struct {
	Type              Type
	TargetParticipant string
	OriginalText      string
	NormalizedTarget  string
	Confidence        float64
}

// Context is the resolver output for one message. Ephemeral; computed per
// message and never persisted.
type Context struct {
	Message         string
	Mentions        []Data
	ExplicitTargets []string
	ImplicitTargets []string
}

// IsMentioned reports whether the participant was explicitly or implicitly
// referenced. Contextual back-references are too weak to count here.
func (c *Context) IsMentioned(participantID string) bool {
	for _, m := range c.Mentions {
		if m.TargetParticipant == participantID && m.Type != TypeContext {
			return true
		}
	}
	return false
}

// atTokenPattern matches @name tokens such as @gpt-4 or @claude_3.
var atTokenPattern = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9_-]*)`)

// backRefPhrases are the fixed contextual cues. Substring matched,
// case-insensitive.
var backRefPhrases = []string{
	"what you said",
	"as you said",
	"you said",
	"your point",
	"your idea",
	"your suggestion",
	"you mentioned",
	"you're right",
	"youre right",
	"i agree with you",
}

// Resolver detects participant mentions. Safe for concurrent use.
type Resolver struct {
	normalizer *alias.Normalizer
}

// NewResolver creates a Resolver with a fresh normalizer cache.
func NewResolver() *Resolver {
	return &Resolver{normalizer: alias.NewNormalizer()}
}

// Detect scans message for references to participants. lastSpeakerID names
// the most recent speaker other than the message sender and receives any
// contextual back-reference; pass "" when there is no prior speaker, which
// disables the contextual tier.
func (r *Resolver) Detect(message string, participants []Participant, lastSpeakerID string) *Context {
	ctx := &Context{Message: message}
	if message == "" || len(participants) == 0 {
		return ctx
	}

	explicit := r.detectExplicit(message, participants)
	implicit := r.detectImplicit(message, participants, explicit)
	contextual := r.detectContextual(message, participants, lastSpeakerID, explicit, implicit)

	for _, d := range explicit {
		if !validate(d) {
			continue
		}
		ctx.Mentions = append(ctx.Mentions, d)
		ctx.ExplicitTargets = append(ctx.ExplicitTargets, d.TargetParticipant)
	}
	for _, d := range implicit {
		if !validate(d) {
			continue
		}
		ctx.Mentions = append(ctx.Mentions, d)
		ctx.ImplicitTargets = append(ctx.ImplicitTargets, d.TargetParticipant)
	}
	for _, d := range contextual {
		if !validate(d) {
			continue
		}
		ctx.Mentions = append(ctx.Mentions, d)
	}
	return ctx
}

// detectExplicit resolves @tokens against normalized alias, id and provider.
// One entry per participant no matter how many tokens hit it.
func (r *Resolver) detectExplicit(message string, participants []Participant) []Data {
	tokens := atTokenPattern.FindAllStringSubmatch(message, -1)
	if len(tokens) == 0 {
		return nil
	}

	var out []Data
	matched := make(map[string]bool, len(participants))
	for _, tok := range tokens {
		normalized := r.normalizer.Normalize(tok[1])
		if normalized == "" {
			continue
		}
		for _, p := range participants {
			if matched[p.ID] {
				continue
			}
			if r.matchesParticipant(normalized, p) {
				matched[p.ID] = true
				out = append(out, Data{
					Type:              TypeDirect,
					TargetParticipant: p.ID,
					OriginalText:      tok[0],
					NormalizedTarget:  normalized,
					Confidence:        ConfidenceExplicit,
				})
			}
		}
	}
	return out
}

// detectImplicit finds case-insensitive whole-word occurrences of a
// participant's alias, id or provider label. At most one entry per
// participant; participants already explicit are skipped.
func (r *Resolver) detectImplicit(message string, participants []Participant, explicit []Data) []Data {
	taken := make(map[string]bool, len(explicit))
	for _, d := range explicit {
		taken[d.TargetParticipant] = true
	}

	var out []Data
	for _, p := range participants {
		if taken[p.ID] {
			continue
		}
		for _, key := range []string{p.Alias, p.ID, p.Provider} {
			if key == "" {
				continue
			}
			original, ok := findWholeWord(message, key)
			if !ok {
				continue
			}
			out = append(out, Data{
				Type:              TypeIndirect,
				TargetParticipant: p.ID,
				OriginalText:      original,
				NormalizedTarget:  r.normalizer.Normalize(key),
				Confidence:        ConfidenceImplicit,
			})
			break
		}
	}
	return out
}

// detectContextual attributes fixed back-reference phrases to the most
// recent other speaker. Yields nothing without a prior speaker or when that
// speaker was already matched by a stronger tier.
func (r *Resolver) detectContextual(message string, participants []Participant, lastSpeakerID string, explicit, implicit []Data) []Data {
	if lastSpeakerID == "" {
		return nil
	}
	for _, d := range explicit {
		if d.TargetParticipant == lastSpeakerID {
			return nil
		}
	}
	for _, d := range implicit {
		if d.TargetParticipant == lastSpeakerID {
			return nil
		}
	}

	var speaker *Participant
	for i := range participants {
		if participants[i].ID == lastSpeakerID {
			speaker = &participants[i]
			break
		}
	}
	if speaker == nil {
		return nil
	}

	for _, phrase := range backRefPhrases {
		original, ok := findFold(message, phrase)
		if !ok {
			continue
		}
		return []Data{{
			Type:              TypeContext,
			TargetParticipant: speaker.ID,
			OriginalText:      original,
			NormalizedTarget:  r.normalizer.Normalize(speaker.Alias),
			Confidence:        ConfidenceContextual,
		}}
	}
	return nil
}

// matchesParticipant reports whether a normalized token equals the
// participant's normalized alias, id or provider label.
func (r *Resolver) matchesParticipant(normalized string, p Participant) bool {
	for _, key := range []string{p.Alias, p.ID, p.Provider} {
		if key == "" {
			continue
		}
		if r.normalizer.Normalize(key) == normalized {
			return true
		}
	}
	return false
}

// findWholeWord locates key in text case-insensitively with word boundaries
// on both sides, returning the original-cased match. The scan walks text
// rune by rune and folds candidate windows in place; lowering a copy first
// would desynchronize byte offsets whenever case-mapping changes a rune's
// encoded length (İ, Ⱥ).
func findWholeWord(text, key string) (string, bool) {
	n := utf8.RuneCountInString(key)
	if n == 0 {
		return "", false
	}
	for i := 0; i < len(text); {
		if j, ok := advanceRunes(text, i, n); ok &&
			strings.EqualFold(text[i:j], key) &&
			boundaryBefore(text, i) && boundaryAfter(text, j) {
			return text[i:j], true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return "", false
}

// findFold returns the first case-insensitive occurrence of sub in text
// without boundary requirements, again rune-aligned against text itself.
func findFold(text, sub string) (string, bool) {
	n := utf8.RuneCountInString(sub)
	if n == 0 {
		return "", false
	}
	for i := 0; i < len(text); {
		if j, ok := advanceRunes(text, i, n); ok && strings.EqualFold(text[i:j], sub) {
			return text[i:j], true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return "", false
}

// advanceRunes returns the byte offset n runes past start, or false when
// the string ends first.
func advanceRunes(s string, start, n int) (int, bool) {
	i := start
	for ; n > 0; n-- {
		if i >= len(s) {
			return 0, false
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i, true
}

func boundaryBefore(s string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:idx])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, idx int) bool {
	if idx >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[idx:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// validate is the structural guard on detected entries. Invalid entries are
// dropped silently, never surfaced as errors.
func validate(d Data) bool {
	if d.OriginalText == "" || d.NormalizedTarget == "" {
		return false
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return false
	}
	switch d.Type {
	case TypeDirect, TypeIndirect, TypeContext:
		return true
	default:
		return false
	}
}

// PrependToken prefixes the participant's canonical @token onto text unless
// the token already appears anywhere in it.
func PrependToken(text string, p Participant) string {
	token := alias.MentionToken(p.Alias)
	if token == "" {
		return text
	}
	if strings.Contains(strings.ToLower(text), token) {
		return text
	}
	return token + " " + text
}

// Token returns the canonical @token for a participant's alias.
func Token(p Participant) string {
	return alias.MentionToken(p.Alias)
}
