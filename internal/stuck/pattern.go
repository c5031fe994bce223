package stuck

import (
	"regexp"
	"strings"
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/detect"
)

// PatternWindowSize is how many finalized chunks are kept per session.
const PatternWindowSize = 10

// minLengthRatio is how close two same-hash chunks must be in length to be
// counted as the same pattern.
const minLengthRatio = 0.8

// Chunk is one finalized window of output.
type Chunk struct {
	Hash   uint32
	Length int
	At     time.Time
}

// PatternState accumulates output into fixed-length windows and keeps the
// most recent finalized ones.
type PatternState struct {
	Chunks []Chunk

	// BufferStart is when the in-progress chunk received its first output;
	// zero when nothing is buffered.
	BufferStart time.Time
	buffer      []byte
}

// Buffered returns the size of the in-progress chunk.
func (p *PatternState) Buffered() int {
	return len(p.buffer)
}

func (p PatternState) clone() PatternState {
	p.Chunks = append([]Chunk(nil), p.Chunks...)
	p.buffer = append([]byte(nil), p.buffer...)
	return p
}

// add finalizes a due chunk, then buffers text.
func (p *PatternState) add(text string, now time.Time, window time.Duration) {
	p.finalizeIfDue(now, window)
	if text == "" {
		return
	}
	if p.BufferStart.IsZero() {
		p.BufferStart = now
	}
	p.buffer = append(p.buffer, text...)
}

// finalizeIfDue closes the in-progress chunk once it spans window.
func (p *PatternState) finalizeIfDue(now time.Time, window time.Duration) {
	if p.BufferStart.IsZero() || now.Sub(p.BufferStart) < window {
		return
	}
	normalized := normalizeChunk(string(p.buffer))
	p.buffer = p.buffer[:0]
	p.BufferStart = time.Time{}
	if normalized == "" {
		return
	}

	p.Chunks = append(p.Chunks, Chunk{Hash: hashChunk(normalized), Length: len(normalized), At: now})
	if len(p.Chunks) > PatternWindowSize {
		p.Chunks = p.Chunks[len(p.Chunks)-PatternWindowSize:]
	}
}

// repeated reports whether any chunk recurs at least threshold times. Each
// distinct hash is represented by the first chunk seen with it; later chunks
// count toward the group only when their length is within minLengthRatio of
// the representative.
func (p *PatternState) repeated(threshold int) bool {
	if threshold <= 0 {
		return false
	}
	type group struct {
		rep   Chunk
		count int
	}
	var groups []group

	for _, c := range p.Chunks {
		found := false
		for i := range groups {
			if groups[i].rep.Hash != c.Hash {
				continue
			}
			found = true
			if similarLength(groups[i].rep.Length, c.Length) {
				groups[i].count++
				if groups[i].count >= threshold {
					return true
				}
			}
			break
		}
		if !found {
			groups = append(groups, group{rep: c, count: 1})
			if threshold == 1 {
				return true
			}
		}
	}
	return false
}

func similarLength(a, b int) bool {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi == 0 {
		return true
	}
	return float64(lo)/float64(hi) >= minLengthRatio
}

var (
	timestampPatterns = []*regexp.Regexp{
		// 2026-03-01T09:00:00.123Z, 2026-03-01 09:00:00+02:00
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?`),
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
		// 09:00, 9:00:01 PM
		regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?(?:\s?[AaPp][Mm])?\b`),
		// elapsed counters: 12s, 1.5m, 300ms
		regexp.MustCompile(`\b\d+(?:\.\d+)?\s?(?:ms|s|m|h)\b`),
	}
	whitespace = regexp.MustCompile(`\s+`)
)

// normalizeChunk strips escape sequences and timestamp-shaped substrings and
// collapses whitespace so that otherwise identical output hashes the same.
func normalizeChunk(text string) string {
	text = detect.StripANSI(text)
	for _, re := range timestampPatterns {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// hashChunk is a rolling multiplicative hash (h = h*31 + c).
func hashChunk(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
