// Package directive implements the inline control-tag grammar embedded
// in generated replies. A closed set of directive kinds, each with a
// typed payload, is extracted in a single pass that both strips the
// tags from the user-visible text and collects them for dispatch. A
// recognized tag is always stripped, well-formed or not: the raw syntax
// must never reach the end user.
package directive

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind identifies one directive family.
type Kind int

const (
	KindAudio Kind = iota
	KindGuided
	KindUpgrade
	KindSchedule
	KindReschedule
	KindBulkSchedule
	KindMemory
	KindAwaiting
	KindConcluded
	KindCloseSession
	KindThemeNew
	KindThemeProgress
	KindThemeResolved
	KindThemeStagnant
	KindCommitmentDone
	KindCommitmentAbandoned
	KindCommitmentRenegotiated
	KindDoNotDisturb
	KindPauseSessions
	KindCheckin
)

// String returns the tag name for logging.
func (k Kind) String() string {
	for name, def := range registry {
		if def.kind == k {
			return name
		}
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MemoryTriple is one category:key:value fact from a memory-save
// directive.
type MemoryTriple struct {
	Category string
	Key      string
	Value    string
}

// Directive is one extracted control tag with its typed payload. Only
// the fields relevant to the Kind are populated.
type Directive struct {
	Kind Kind

	Category    string         // KindGuided
	Plan        string         // KindUpgrade
	Placeholder string         // KindUpgrade: marker left in the text for in-place substitution
	When        time.Time      // KindSchedule, KindReschedule, KindPauseSessions
	Topic       string         // KindSchedule, KindReschedule
	Times       []time.Time    // KindBulkSchedule
	Triples     []MemoryTriple // KindMemory
	Name        string         // theme/commitment name or title
	NewName     string         // KindCommitmentRenegotiated
	Hours       int            // KindDoNotDisturb
	Mood        string         // KindCheckin
	Energy      int            // KindCheckin: 1-5 scale
}

// parseFunc turns a tag argument string into a directive payload.
// Returning false drops the occurrence (still stripped from the text).
type parseFunc func(arg string, loc *time.Location) (Directive, bool)

type tagDef struct {
	kind  Kind
	parse parseFunc
}

// registry is the closed tag vocabulary. Adding a directive family
// means adding exactly one entry here.
var registry = map[string]tagDef{
	"AUDIO":                   {KindAudio, parseBare(KindAudio)},
	"AUDIO_GUIADO":            {KindGuided, parseGuided},
	"LINK_UPGRADE":            {KindUpgrade, parseUpgrade},
	"AGENDAR":                 {KindSchedule, parseSchedule(KindSchedule)},
	"REAGENDAR":               {KindReschedule, parseSchedule(KindReschedule)},
	"AGENDAR_MULTIPLAS":       {KindBulkSchedule, parseBulkSchedule},
	"SALVAR":                  {KindMemory, parseMemory},
	"CHECKIN":                 {KindCheckin, parseCheckin},
	"AGUARDANDO_RESPOSTA":     {KindAwaiting, parseBare(KindAwaiting)},
	"CONVERSA_CONCLUIDA":      {KindConcluded, parseBare(KindConcluded)},
	"ENCERRAR_SESSAO":         {KindCloseSession, parseBare(KindCloseSession)},
	"TEMA_NOVO":               {KindThemeNew, parseName(KindThemeNew)},
	"TEMA_PROGRESSO":          {KindThemeProgress, parseName(KindThemeProgress)},
	"TEMA_RESOLVIDO":          {KindThemeResolved, parseName(KindThemeResolved)},
	"TEMA_ESTAGNADO":          {KindThemeStagnant, parseName(KindThemeStagnant)},
	"COMPROMISSO_CONCLUIDO":   {KindCommitmentDone, parseName(KindCommitmentDone)},
	"COMPROMISSO_ABANDONADO":  {KindCommitmentAbandoned, parseName(KindCommitmentAbandoned)},
	"COMPROMISSO_RENEGOCIADO": {KindCommitmentRenegotiated, parseRenegotiated},
	"NAO_PERTURBE":            {KindDoNotDisturb, parseDND},
	"PAUSAR_SESSOES":          {KindPauseSessions, parsePause},
}

// tagPattern matches [NAME] or [NAME:args]. Args never contain a
// closing bracket.
var tagPattern = regexp.MustCompile(`\[([A-Z_]+)(?::([^\]]*))?\]`)

var (
	runSpaces   = regexp.MustCompile(`[ \t]{2,}`)
	runNewlines = regexp.MustCompile(`\n{3,}`)
)

// guidedCatalogue is the fixed category set for pre-recorded guided
// audio.
var guidedCatalogue = map[string]bool{
	"respiracao":  true,
	"relaxamento": true,
	"sono":        true,
	"ansiedade":   true,
	"gratidao":    true,
}

// scheduleTimeLayout is the datetime format carried by scheduling
// directives, interpreted in the business timezone.
const scheduleTimeLayout = "2006-01-02 15:04"

// pauseDateLayout is the date format carried by the pause directive.
const pauseDateLayout = "2006-01-02"

// upgradePlaceholder marks where a resolved checkout link is spliced
// back into the text. The processor replaces every occurrence; a final
// sweep removes any stragglers so markers can never leak.
const upgradePlaceholder = "\x00upgrade\x00"

// Extract scans text for control tags, strips every recognized tag,
// and returns the cleaned text plus the well-formed directives in
// order of appearance. Unrecognized bracketed tokens are left intact:
// they may be legitimate content. loc is the business timezone used
// to interpret embedded datetimes.
func Extract(text string, loc *time.Location) (string, []Directive) {
	var directives []Directive

	clean := tagPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := tagPattern.FindStringSubmatch(match)
		name, arg := groups[1], groups[2]

		def, ok := registry[name]
		if !ok {
			return match // not ours, leave it alone
		}

		d, ok := def.parse(arg, loc)
		if !ok {
			return "" // malformed occurrence: strip, drop
		}

		if d.Kind == KindUpgrade {
			d.Placeholder = upgradePlaceholder
			directives = append(directives, d)
			return upgradePlaceholder
		}

		directives = append(directives, d)
		return ""
	})

	// Audio mode and guided audio are mutually exclusive: a guided
	// delivery already is the voice content, so the whole-reply audio
	// request yields.
	if Has(directives, KindGuided) {
		directives = Remove(directives, KindAudio)
	}

	return tidy(clean), directives
}

// StripPlaceholders removes any unresolved upgrade markers. Called as a
// final safety sweep before text leaves the directive pipeline.
func StripPlaceholders(text string) string {
	if !strings.Contains(text, upgradePlaceholder) {
		return text
	}
	return tidy(strings.ReplaceAll(text, upgradePlaceholder, ""))
}

// Has reports whether any directive of the given kind is present.
func Has(ds []Directive, kind Kind) bool {
	for _, d := range ds {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// Remove returns ds without any directive of the given kind.
func Remove(ds []Directive, kind Kind) []Directive {
	out := ds[:0]
	for _, d := range ds {
		if d.Kind != kind {
			out = append(out, d)
		}
	}
	return out
}

func parseBare(kind Kind) parseFunc {
	return func(_ string, _ *time.Location) (Directive, bool) {
		return Directive{Kind: kind}, true
	}
}

func parseName(kind Kind) parseFunc {
	return func(arg string, _ *time.Location) (Directive, bool) {
		name := strings.TrimSpace(arg)
		if name == "" {
			return Directive{}, false
		}
		return Directive{Kind: kind, Name: name}, true
	}
}

func parseGuided(arg string, _ *time.Location) (Directive, bool) {
	category := strings.ToLower(strings.TrimSpace(arg))
	if !guidedCatalogue[category] {
		return Directive{}, false
	}
	return Directive{Kind: KindGuided, Category: category}, true
}

func parseUpgrade(arg string, _ *time.Location) (Directive, bool) {
	plan := strings.ToLower(strings.TrimSpace(arg))
	if plan == "" {
		return Directive{}, false
	}
	return Directive{Kind: KindUpgrade, Plan: plan}, true
}

func parseSchedule(kind Kind) parseFunc {
	return func(arg string, loc *time.Location) (Directive, bool) {
		// "2006-01-02 15:04" optionally followed by ":topic". The
		// datetime itself contains a colon, so split positionally.
		arg = strings.TrimSpace(arg)
		if len(arg) < len(scheduleTimeLayout) {
			return Directive{}, false
		}

		when, err := time.ParseInLocation(scheduleTimeLayout, arg[:len(scheduleTimeLayout)], loc)
		if err != nil {
			return Directive{}, false
		}

		topic := strings.TrimSpace(strings.TrimPrefix(arg[len(scheduleTimeLayout):], ":"))
		return Directive{Kind: kind, When: when, Topic: topic}, true
	}
}

func parseBulkSchedule(arg string, loc *time.Location) (Directive, bool) {
	var times []time.Time
	for _, part := range strings.Split(arg, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		when, err := time.ParseInLocation(scheduleTimeLayout, part, loc)
		if err != nil {
			continue // partial success is acceptable
		}
		times = append(times, when)
	}
	if len(times) == 0 {
		return Directive{}, false
	}
	return Directive{Kind: KindBulkSchedule, Times: times}, true
}

func parseMemory(arg string, _ *time.Location) (Directive, bool) {
	var triples []MemoryTriple
	for _, part := range strings.Split(arg, "|") {
		fields := strings.SplitN(part, ":", 3)
		if len(fields) != 3 {
			continue
		}
		t := MemoryTriple{
			Category: strings.ToLower(strings.TrimSpace(fields[0])),
			Key:      strings.TrimSpace(fields[1]),
			Value:    strings.TrimSpace(fields[2]),
		}
		if t.Category == "" || t.Key == "" || t.Value == "" {
			continue
		}
		triples = append(triples, t)
	}
	if len(triples) == 0 {
		return Directive{}, false
	}
	return Directive{Kind: KindMemory, Triples: triples}, true
}

func parseRenegotiated(arg string, _ *time.Location) (Directive, bool) {
	// "old title>new title"
	parts := strings.SplitN(arg, ">", 2)
	if len(parts) != 2 {
		return Directive{}, false
	}
	oldTitle := strings.TrimSpace(parts[0])
	newTitle := strings.TrimSpace(parts[1])
	if oldTitle == "" || newTitle == "" {
		return Directive{}, false
	}
	return Directive{Kind: KindCommitmentRenegotiated, Name: oldTitle, NewName: newTitle}, true
}

// parseCheckin reads a humor:energia pair with energy on a 1-5 scale.
func parseCheckin(arg string, _ *time.Location) (Directive, bool) {
	mood, energyStr, ok := strings.Cut(arg, ":")
	if !ok {
		return Directive{}, false
	}
	mood = strings.ToLower(strings.TrimSpace(mood))
	energy, err := strconv.Atoi(strings.TrimSpace(energyStr))
	if mood == "" || err != nil || energy < 1 || energy > 5 {
		return Directive{}, false
	}
	return Directive{Kind: KindCheckin, Mood: mood, Energy: energy}, true
}

func parseDND(arg string, _ *time.Location) (Directive, bool) {
	hours, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || hours <= 0 {
		return Directive{}, false
	}
	return Directive{Kind: KindDoNotDisturb, Hours: hours}, true
}

func parsePause(arg string, loc *time.Location) (Directive, bool) {
	when, err := time.ParseInLocation(pauseDateLayout, strings.TrimSpace(arg), loc)
	if err != nil {
		return Directive{}, false
	}
	return Directive{Kind: KindPauseSessions, When: when}, true
}

// tidy collapses the whitespace holes left by stripped tags.
func tidy(s string) string {
	s = runSpaces.ReplaceAllString(s, " ")
	s = runNewlines.ReplaceAllString(s, "\n\n")
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		lines = append(lines, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
