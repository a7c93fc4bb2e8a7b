// Package segment turns one generated reply into the ordered delivery
// units that simulate human pacing on the wire: short text bubbles
// with typing delays, or bounded spoken segments in audio mode. The
// contract: concatenating all unit contents reproduces the input reply
// modulo whitespace and separator markers.
package segment

import (
	"math/rand"
	"strings"
	"time"

	"github.com/auralabs/aura-agent/internal/config"
)

// bubbleSeparator is the explicit "new bubble" marker generation may
// emit between ideas.
const bubbleSeparator = "|||"

// spokenPause replaces bubble separators in audio mode.
const spokenPause = "... "

// Unit is one delivery step: content, the delay to wait before sending
// it, and the modality.
type Unit struct {
	Content string
	Delay   time.Duration
	IsAudio bool
}

// Segmenter splits replies according to the configured pacing knobs.
// rng drives the delay jitter; inject a seeded source in tests.
type Segmenter struct {
	cfg config.SegmenterConfig
	rng *rand.Rand
}

func New(cfg config.SegmenterConfig, rng *rand.Rand) *Segmenter {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Segmenter{cfg: cfg, rng: rng}
}

// Split segments a reply for delivery. In audio mode separators become
// spoken pauses and the content packs into bounded spoken segments; in
// text mode it becomes capped bubbles with typing-simulation delays.
func (s *Segmenter) Split(text string, audio bool) []Unit {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if audio {
		return s.splitAudio(text)
	}
	return s.splitText(text)
}

func (s *Segmenter) splitText(text string) []Unit {
	var parts []string
	for _, part := range strings.Split(text, bubbleSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len([]rune(part)) <= s.cfg.BubbleLimit {
			parts = append(parts, part)
			continue
		}
		parts = append(parts, subdivide(part, s.cfg.BubbleLimit)...)
	}

	parts = capParts(parts, s.cfg.MaxUnits, " ")

	units := make([]Unit, 0, len(parts))
	for _, p := range parts {
		units = append(units, Unit{Content: p, Delay: s.typingDelay(p)})
	}
	return units
}

func (s *Segmenter) splitAudio(text string) []Unit {
	spoken := strings.Join(splitAndTrim(text, bubbleSeparator), spokenPause)

	var parts []string
	if len([]rune(spoken)) <= s.cfg.AudioLimit {
		parts = []string{spoken}
	} else {
		parts = packSentences(spoken, s.cfg.AudioLimit)
	}

	parts = capParts(parts, s.cfg.MaxUnits, " ")

	units := make([]Unit, 0, len(parts))
	for i, p := range parts {
		var delay time.Duration
		if i > 0 {
			delay = s.cfg.AudioGap
		}
		units = append(units, Unit{Content: p, Delay: delay, IsAudio: true})
	}
	return units
}

// typingDelay simulates composing time for a bubble: proportional to
// length, clamped to the floor and ceiling, with multiplicative jitter
// so pacing is not mechanical.
func (s *Segmenter) typingDelay(content string) time.Duration {
	d := time.Duration(len([]rune(content))) * s.cfg.DelayPerChar
	if d < s.cfg.MinDelay {
		d = s.cfg.MinDelay
	}
	if d > s.cfg.MaxDelay {
		d = s.cfg.MaxDelay
	}
	if s.cfg.Jitter > 0 {
		factor := 1 + (s.rng.Float64()*2-1)*s.cfg.Jitter
		d = time.Duration(float64(d) * factor)
	}
	return d
}

// CapDelay clamps a unit delay to the hard per-send ceiling. Applied at
// delivery time so jitter can never stall a turn.
func (s *Segmenter) CapDelay(d time.Duration) time.Duration {
	if s.cfg.MaxSingleDelay > 0 && d > s.cfg.MaxSingleDelay {
		return s.cfg.MaxSingleDelay
	}
	return d
}

// subdivide breaks an oversized part at sentence boundaries, then comma
// boundaries, and as a last resort hard-slices a run-on clause.
func subdivide(part string, limit int) []string {
	var out []string
	for _, chunk := range packPieces(sentences(part), limit) {
		if len([]rune(chunk)) <= limit {
			out = append(out, chunk)
			continue
		}
		for _, sub := range packPieces(commaClauses(chunk), limit) {
			if len([]rune(sub)) <= limit {
				out = append(out, sub)
				continue
			}
			out = append(out, hardSlice(sub, limit)...)
		}
	}
	return out
}

// packSentences greedily packs sentences into segments of at most limit
// characters, hard-slicing any single sentence that alone exceeds it.
func packSentences(text string, limit int) []string {
	var pieces []string
	for _, sent := range sentences(text) {
		if len([]rune(sent)) > limit {
			pieces = append(pieces, hardSlice(sent, limit)...)
		} else {
			pieces = append(pieces, sent)
		}
	}
	return packPieces(pieces, limit)
}

// packPieces greedily joins consecutive pieces while they fit in limit.
// Pieces longer than limit pass through for the caller to handle.
func packPieces(pieces []string, limit int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
			curLen = 0
		}
	}

	for _, p := range pieces {
		n := len([]rune(p))
		if n > limit {
			flush()
			out = append(out, p)
			continue
		}
		if curLen > 0 && curLen+1+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(p)
		curLen += n
	}
	flush()
	return out
}

// capParts enforces the unit ceiling by concatenating the tail back
// into the final part. Content is never dropped.
func capParts(parts []string, maxUnits int, sep string) []string {
	if maxUnits <= 0 || len(parts) <= maxUnits {
		return parts
	}
	head := parts[:maxUnits-1]
	tail := strings.Join(parts[maxUnits-1:], sep)
	return append(head, tail)
}

// sentences splits on sentence-final punctuation, keeping the
// punctuation with its sentence.
func sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			// Consume any run of closing punctuation.
			if i+1 < len(runes) && (runes[i+1] == '.' || runes[i+1] == '!' || runes[i+1] == '?') {
				continue
			}
			s := strings.TrimSpace(string(runes[start : i+1]))
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

// commaClauses splits at commas, keeping the comma with the left side.
func commaClauses(text string) []string {
	var out []string
	parts := strings.Split(text, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i < len(parts)-1 {
			p += ","
		}
		out = append(out, p)
	}
	return out
}

// hardSlice cuts at rune boundaries, preferring the last space inside
// the window.
func hardSlice(text string, limit int) []string {
	var out []string
	runes := []rune(strings.TrimSpace(text))
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == ' ' {
				cut = i - 1
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

func splitAndTrim(text, sep string) []string {
	var out []string
	for _, p := range strings.Split(text, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
