package session

import "strings"

// trackKeywords maps challenge keywords to the starting content track.
// First match in declaration order wins; anything unmatched lands on
// the fundamentals track.
var trackKeywords = []struct {
	track    string
	keywords []string
}{
	{"ansiedade", []string{"ansiedade", "ansios", "pânico", "panico", "preocupa"}},
	{"sono", []string{"sono", "insônia", "insonia", "dorm", "cansaço", "cansaco"}},
	{"autoestima", []string{"autoestima", "auto-estima", "confiança", "confianca", "insegur", "vergonha"}},
	{"relacionamentos", []string{"relacionamento", "casamento", "namoro", "solidão", "solidao", "família", "familia"}},
	{"equilibrio", []string{"trabalho", "burnout", "esgotamento", "carreira", "pressão", "pressao", "estresse"}},
	{"luto", []string{"luto", "perda", "falecimento", "morte"}},
}

const defaultTrack = "fundamentos"

// ContentTrackFor picks the starting content track for the detected
// primary challenges.
func ContentTrackFor(challenges string) string {
	norm := strings.ToLower(challenges)
	for _, entry := range trackKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(norm, kw) {
				return entry.track
			}
		}
	}
	return defaultTrack
}
