package spans

import (
	"strconv"
	"strings"
	"unicode"
)

// CheermoteTier is one bit threshold of a cheermote, carrying the image used
// to render cheers at or above MinBits.
type CheermoteTier struct {
	MinBits  int64
	ImageURL string
}

// CheermoteSet groups the tiers of a single cheermote prefix, tiers sorted by
// ascending MinBits.
type CheermoteSet struct {
	Prefix string
	Tiers  []CheermoteTier
}

// tierFor picks the highest tier whose threshold is satisfied by bits.
func (s CheermoteSet) tierFor(bits int64) CheermoteTier {
	tier := s.Tiers[0]
	for _, t := range s.Tiers[1:] {
		if bits < t.MinBits {
			break
		}
		tier = t
	}
	return tier
}

// OverlayCheermotes runs a second pass over parsed chunks, replacing
// "prefix<number>" tokens inside text chunks with rendered token chunks.
// Matching is case-insensitive and only whole whitespace-separated words are
// considered, so an emote already claimed by the first pass is never split.
func OverlayCheermotes(chunks []Chunk, sets []CheermoteSet) []Chunk {
	if len(sets) == 0 {
		return chunks
	}
	var out []Chunk
	for _, c := range chunks {
		if c.Type != ChunkText {
			out = append(out, c)
			continue
		}
		out = append(out, overlayText(c.Value, sets)...)
	}
	return out
}

func overlayText(text string, sets []CheermoteSet) []Chunk {
	runes := []rune(text)
	var out []Chunk
	cursor := 0
	i := 0
	for i < len(runes) {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		word := string(runes[start:i])
		set, bits, ok := matchCheer(word, sets)
		if !ok {
			continue
		}
		if cursor < start {
			out = append(out, Chunk{Type: ChunkText, Value: string(runes[cursor:start])})
		}
		tier := set.tierFor(bits)
		out = append(out, Chunk{
			Type:     ChunkToken,
			Value:    word,
			Label:    set.Prefix + " x" + strconv.FormatInt(bits, 10),
			URL:      tier.ImageURL,
			SourceID: "cheer_" + set.Prefix,
		})
		cursor = i
	}
	if cursor < len(runes) || len(out) == 0 {
		out = append(out, Chunk{Type: ChunkText, Value: string(runes[cursor:])})
	}
	return out
}

func matchCheer(word string, sets []CheermoteSet) (CheermoteSet, int64, bool) {
	lower := strings.ToLower(word)
	for _, s := range sets {
		if len(s.Tiers) == 0 {
			continue
		}
		prefix := strings.ToLower(s.Prefix)
		rest, ok := strings.CutPrefix(lower, prefix)
		if !ok || !allDigits(rest) {
			continue
		}
		bits, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			continue
		}
		return s, bits, true
	}
	return CheermoteSet{}, 0, false
}

// allDigits reports whether s is one or more ASCII digits, the only amount
// shape a cheer token may carry. ParseInt alone would also accept a sign.
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
