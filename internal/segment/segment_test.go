package segment

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/auralabs/aura-agent/internal/config"
)

func newSegmenter() *Segmenter {
	return New(config.Default().Segmenter, rand.New(rand.NewSource(1)))
}

// normalize collapses whitespace for round-trip comparison.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func joined(units []Unit) string {
	var parts []string
	for _, u := range units {
		parts = append(parts, u.Content)
	}
	return normalize(strings.Join(parts, " "))
}

func TestSplit_BubbleSeparators(t *testing.T) {
	s := newSegmenter()

	text := "Oi, que bom te ver! ||| Como foi seu dia? ||| Tô aqui pra te ouvir."
	units := s.Split(text, false)

	if len(units) != 3 {
		t.Fatalf("units = %d, want 3", len(units))
	}
	if units[0].Content != "Oi, que bom te ver!" {
		t.Errorf("first bubble = %q", units[0].Content)
	}
	for i, u := range units {
		if u.IsAudio {
			t.Errorf("unit %d marked audio in text mode", i)
		}
		if u.Delay <= 0 {
			t.Errorf("unit %d has no delay", i)
		}
		if strings.Contains(u.Content, "|||") {
			t.Errorf("separator leaked: %q", u.Content)
		}
	}
}

func TestSplit_LongPartSubdividedAtSentences(t *testing.T) {
	s := newSegmenter()
	limit := config.Default().Segmenter.BubbleLimit

	sentence := "Essa semana eu percebi que fico adiando as conversas difíceis com a minha chefe porque tenho medo da reação dela. "
	text := strings.Repeat(sentence, 4) // well past one bubble

	units := s.Split(text, false)
	if len(units) < 2 {
		t.Fatalf("long text produced %d unit(s)", len(units))
	}
	for i, u := range units {
		if n := len([]rune(u.Content)); n > limit {
			t.Errorf("unit %d length %d exceeds bubble limit %d", i, n, limit)
		}
	}
	if got, want := joined(units), normalize(text); got != want {
		t.Errorf("round trip broken:\n got %q\nwant %q", got, want)
	}
}

func TestSplit_RunOnClauseHardSliced(t *testing.T) {
	s := newSegmenter()
	limit := config.Default().Segmenter.BubbleLimit

	// One clause with no sentence or comma boundaries at all.
	text := strings.Repeat("palavra ", 80)
	units := s.Split(text, false)

	for i, u := range units {
		if n := len([]rune(u.Content)); n > limit {
			t.Errorf("unit %d length %d exceeds limit", i, n)
		}
	}
	if got, want := joined(units), normalize(text); got != want {
		t.Errorf("round trip broken")
	}
}

func TestSplit_UnitCapConcatenatesTail(t *testing.T) {
	s := newSegmenter()
	maxUnits := config.Default().Segmenter.MaxUnits

	parts := make([]string, 9)
	for i := range parts {
		parts[i] = "Uma ideia curta aqui."
	}
	text := strings.Join(parts, " ||| ")

	units := s.Split(text, false)
	if len(units) != maxUnits {
		t.Fatalf("units = %d, want cap %d", len(units), maxUnits)
	}
	if got, want := joined(units), normalize(strings.ReplaceAll(text, "|||", " ")); got != want {
		t.Errorf("tail concatenation lost content:\n got %q\nwant %q", got, want)
	}
}

func TestSplit_AudioMode(t *testing.T) {
	s := newSegmenter()

	text := "Respira comigo. ||| Vamos fechar por hoje com calma."
	units := s.Split(text, true)

	if len(units) != 1 {
		t.Fatalf("units = %d, want 1 packed spoken segment", len(units))
	}
	if !units[0].IsAudio {
		t.Error("unit not marked audio")
	}
	if units[0].Delay != 0 {
		t.Errorf("first audio unit delay = %v, want 0", units[0].Delay)
	}
	if !strings.Contains(units[0].Content, "... ") {
		t.Errorf("separator not converted to spoken pause: %q", units[0].Content)
	}
}

func TestSplit_AudioLongPacksAtSentences(t *testing.T) {
	cfg := config.Default().Segmenter
	s := newSegmenter()

	sentence := "Quando a gente respira fundo o corpo entende que pode desacelerar um pouco e a mente acompanha esse ritmo mais devagar. "
	text := strings.Repeat(sentence, 8)

	units := s.Split(text, true)
	if len(units) < 2 {
		t.Fatalf("long audio produced %d unit(s)", len(units))
	}
	for i, u := range units {
		if n := len([]rune(u.Content)); n > cfg.AudioLimit {
			t.Errorf("unit %d length %d exceeds audio limit %d", i, n, cfg.AudioLimit)
		}
		if i == 0 && u.Delay != 0 {
			t.Errorf("first unit delay = %v", u.Delay)
		}
		if i > 0 && u.Delay != cfg.AudioGap {
			t.Errorf("unit %d delay = %v, want gap %v", i, u.Delay, cfg.AudioGap)
		}
	}
}

func TestTypingDelayBounds(t *testing.T) {
	cfg := config.Default().Segmenter
	s := newSegmenter()

	// Jitter is ±20%, so the clamped value can exceed the ceiling by
	// at most that factor.
	floor := time.Duration(float64(cfg.MinDelay) * (1 - cfg.Jitter))
	ceiling := time.Duration(float64(cfg.MaxDelay) * (1 + cfg.Jitter))

	for i := 0; i < 200; i++ {
		short := s.typingDelay("oi")
		long := s.typingDelay(strings.Repeat("a", 2000))
		if short < floor {
			t.Fatalf("short delay %v below jittered floor %v", short, floor)
		}
		if long > ceiling {
			t.Fatalf("long delay %v above jittered ceiling %v", long, ceiling)
		}
	}
}

func TestCapDelay(t *testing.T) {
	cfg := config.Default().Segmenter
	s := newSegmenter()

	if got := s.CapDelay(time.Minute); got != cfg.MaxSingleDelay {
		t.Errorf("CapDelay(1m) = %v, want %v", got, cfg.MaxSingleDelay)
	}
	if got := s.CapDelay(time.Second); got != time.Second {
		t.Errorf("CapDelay(1s) = %v, changed a legal delay", got)
	}
}

func TestSplit_Empty(t *testing.T) {
	s := newSegmenter()
	if units := s.Split("   ", false); units != nil {
		t.Errorf("blank input produced units: %+v", units)
	}
}
