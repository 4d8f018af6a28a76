// Package spans splits chat message text into renderable chunks based on
// emote span data coming from up to three tiers of sources: spans supplied by
// the chat protocol itself, spans generated by registered third-party emote
// providers, and spans synthesized from a known-emote dictionary when the
// protocol sends nothing (which it never does for the client's own messages).
//
// All offsets are Unicode codepoint offsets with an inclusive end, using the
// compact wire format "id:start-end,start-end/id:start-end".
package spans

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// ChunkType discriminates text runs from renderable tokens.
type ChunkType string

const (
	ChunkText  ChunkType = "text"
	ChunkToken ChunkType = "token"
)

// Chunk is one piece of a parsed message. Concatenating the Value of every
// chunk of a message reproduces the original text exactly.
type Chunk struct {
	Type     ChunkType
	Value    string // raw text covered by the chunk
	Label    string // human readable token label, empty for text
	URL      string // render image, empty for text
	SourceID string // provider prefix or "twitch" for protocol spans
}

// Token is a dictionary entry used for span synthesis on messages that carry
// no protocol span tag.
type Token struct {
	ID   string
	Code string
}

// Provider is an external emote catalog that can claim codepoint ranges of a
// message. Providers are asked in registration order and must only emit spans
// over offsets that are not already protected.
type Provider interface {
	// Prefix identifies the provider's spans, e.g. "BTTV_". Span ids
	// produced by GenerateSpans must start with this prefix.
	Prefix() string
	// GenerateSpans returns a span string ("id:start-end,...") for every
	// occurrence of the provider's emotes in text, skipping protected
	// offsets. An empty string means no match.
	GenerateSpans(text string, protected []bool) string
	// Resolve maps an emote code to its image URL.
	Resolve(code string) (string, bool)
}

// fallbackImageURL renders protocol emotes straight off the platform CDN.
const fallbackImageURL = "https://static-cdn.jtvnw.net/emoticons/v2/%ID%/default/light/1.0"

var rangeRE = regexp.MustCompile(`[0-9]+-[0-9]+`)

// Parser assembles chunks from the three span tiers. Safe for concurrent use;
// the dictionary can be swapped at runtime as emote sets load.
type Parser struct {
	providers []Provider

	mu   sync.RWMutex
	dict map[string]Token // emote code -> token
}

func NewParser() *Parser {
	return &Parser{dict: map[string]Token{}}
}

// RegisterProvider appends a provider. Registration order is priority order:
// earlier providers win offset collisions against later ones.
func (p *Parser) RegisterProvider(pr Provider) {
	p.providers = append(p.providers, pr)
}

// SetDictionary replaces the known-emote dictionary used for synthesis.
func (p *Parser) SetDictionary(tokens []Token) {
	dict := make(map[string]Token, len(tokens))
	for _, t := range tokens {
		dict[t.Code] = t
	}
	p.mu.Lock()
	p.dict = dict
	p.mu.Unlock()
}

// AddToDictionary merges tokens into the synthesis dictionary. The map is
// copied so readers holding the previous snapshot are unaffected.
func (p *Parser) AddToDictionary(tokens []Token) {
	p.mu.Lock()
	dict := make(map[string]Token, len(p.dict)+len(tokens))
	for k, v := range p.dict {
		dict[k] = v
	}
	for _, t := range tokens {
		dict[t.Code] = t
	}
	p.dict = dict
	p.mu.Unlock()
}

// protectedOffsets marks every codepoint offset already claimed by a span
// string so later tiers cannot claim it again.
func protectedOffsets(spanTag string, size int) []bool {
	protected := make([]bool, size)
	for _, m := range rangeRE.FindAllString(spanTag, -1) {
		parts := strings.SplitN(m, "-", 2)
		start, err1 := strconv.Atoi(parts[0])
		end, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		for i := start; i <= end && i < size; i++ {
			if i >= 0 {
				protected[i] = true
			}
		}
	}
	return protected
}

// synthesizeTag rebuilds a span tag from the dictionary for messages the
// protocol did not annotate. A dictionary hit is only accepted when the
// occurrence is bounded by whitespace (or text start/end) on both sides and
// does not overlap an offset already claimed while building the tag.
func (p *Parser) synthesizeTag(runes []rune) string {
	p.mu.RLock()
	dict := p.dict
	p.mu.RUnlock()
	if len(dict) == 0 {
		return ""
	}
	// Collect candidate emotes actually present as whitespace tokens.
	seen := map[string]bool{}
	var candidates []Token
	for _, word := range strings.Fields(string(runes)) {
		if t, ok := dict[word]; ok && !seen[word] {
			seen[word] = true
			candidates = append(candidates, t)
		}
	}

	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}

	protected := make([]bool, len(runes))
	var tag strings.Builder
	for _, tok := range candidates {
		code := []rune(strings.ToLower(tok.Code))
		var ranges []string
		for start := 0; start+len(code) <= len(lower); start++ {
			if !runesHavePrefix(lower[start:], code) {
				continue
			}
			end := start + len(code) - 1
			if protected[start] || protected[end] {
				continue
			}
			prevOK := start == 0 || unicode.IsSpace(runes[start-1])
			nextOK := end == len(runes)-1 || unicode.IsSpace(runes[end+1])
			if !prevOK || !nextOK {
				continue
			}
			ranges = append(ranges, strconv.Itoa(start)+"-"+strconv.Itoa(end))
			for i := start; i <= end; i++ {
				protected[i] = true
			}
		}
		if len(ranges) > 0 {
			if tag.Len() > 0 {
				tag.WriteString("/")
			}
			tag.WriteString(tok.ID + ":" + strings.Join(ranges, ","))
		}
	}
	return tag.String()
}

func runesHavePrefix(s, prefix []rune) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}

type span struct {
	id         string
	start, end int
}

// Parse splits text into chunks. protocolTag is the raw span string supplied
// by the transport (may be empty). When synthesize is true and no protocol
// tag is present, spans are synthesized from the dictionary first. Registered
// providers are then invited to claim any remaining offsets.
func (p *Parser) Parse(text, protocolTag string, synthesize bool) []Chunk {
	runes := []rune(text)

	tag := protocolTag
	if tag == "" && synthesize {
		tag = p.synthesizeTag(runes)
	}

	for _, pr := range p.providers {
		extra := pr.GenerateSpans(text, protectedOffsets(tag, len(runes)))
		if extra == "" {
			continue
		}
		if tag != "" {
			extra += "/"
		}
		tag = extra + tag
	}

	if tag == "" {
		return []Chunk{{Type: ChunkText, Value: text}}
	}

	var list []span
	for _, group := range strings.Split(tag, "/") {
		id, positions, ok := strings.Cut(group, ":")
		if !ok {
			continue
		}
		for _, pos := range strings.Split(positions, ",") {
			first, second, ok := strings.Cut(pos, "-")
			if !ok {
				continue
			}
			start, err1 := strconv.Atoi(first)
			end, err2 := strconv.Atoi(second)
			if err1 != nil || err2 != nil {
				continue
			}
			if start < 0 || end >= len(runes) || end < start {
				continue
			}
			list = append(list, span{id: id, start: start, end: end})
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].start < list[j].start })

	cursor := 0
	var out []Chunk
	for _, s := range list {
		if s.start < cursor {
			// Overlap slipped through an upstream source; drop it
			// rather than emit text twice.
			continue
		}
		if cursor < s.start {
			out = append(out, Chunk{Type: ChunkText, Value: string(runes[cursor:s.start])})
		}
		out = append(out, p.resolveChunk(s, runes))
		cursor = s.end + 1
	}
	if cursor < len(runes) || len(out) == 0 {
		out = append(out, Chunk{Type: ChunkText, Value: string(runes[cursor:])})
	}
	return out
}

func (p *Parser) resolveChunk(s span, runes []rune) Chunk {
	raw := string(runes[s.start : s.end+1])
	code := strings.TrimSpace(raw)
	for _, pr := range p.providers {
		if !strings.HasPrefix(s.id, pr.Prefix()) {
			continue
		}
		if url, ok := pr.Resolve(code); ok {
			return Chunk{
				Type:     ChunkToken,
				Value:    raw,
				Label:    strings.TrimSuffix(pr.Prefix(), "_") + ": " + code,
				URL:      url,
				SourceID: s.id,
			}
		}
		// Provider no longer knows the code; degrade to plain text.
		return Chunk{Type: ChunkText, Value: raw}
	}
	return Chunk{
		Type:     ChunkToken,
		Value:    raw,
		Label:    code,
		URL:      strings.ReplaceAll(fallbackImageURL, "%ID%", s.id),
		SourceID: s.id,
	}
}
