package session

import (
	"strings"
	"unicode"
)

// Intent is the coarse classification of an inbound message used to
// gate session transitions.
type Intent int

const (
	IntentNone Intent = iota
	// IntentAck is a bare filler reply ("ok", "tá bom"). The binding
	// contract: an ack alone never starts a session.
	IntentAck
	IntentStart
	IntentConfirm
	IntentEnd
	IntentGratitude
)

// Classifier maps message text to an intent. Pluggable so the phrase
// heuristics can be swapped without touching the state machine.
type Classifier interface {
	Classify(text string) Intent
}

// PhraseClassifier is the default Portuguese phrase-list classifier.
type PhraseClassifier struct{}

var (
	ackPhrases = map[string]bool{
		"ok": true, "okay": true, "okk": true, "blz": true, "beleza": true,
		"ta": true, "tá": true, "ta bom": true, "tá bom": true, "ta bem": true,
		"sim": true, "s": true, "legal": true, "certo": true, "uhum": true,
		"aham": true, "show": true, "top": true, "joia": true, "jóia": true,
		"entendi": true, "massa": true, "boa": true, "👍": true, "👌": true,
	}

	startPhrases = []string{
		"vamos começar", "vamos comecar", "pode começar", "pode comecar",
		"quero começar", "quero comecar", "bora começar", "bora comecar",
		"começar sessão", "comecar sessao", "iniciar sessão", "iniciar sessao",
		"começar agora", "comecar agora", "to pronta", "tô pronta",
		"to pronto", "tô pronto", "estou pronta", "estou pronto",
	}

	confirmPhrases = []string{
		"confirmo", "confirmado", "pode ser", "vamos sim", "sim, vamos",
		"sim vamos", "quero sim", "bora", "vamos lá", "vamos la", "partiu",
	}

	endPhrases = []string{
		"encerrar sessão", "encerrar sessao", "terminar sessão",
		"terminar sessao", "finalizar sessão", "finalizar sessao",
		"encerrar por hoje", "parar por hoje", "podemos parar",
		"quero parar", "vamos encerrar", "por hoje chega", "chega por hoje",
	}

	gratitudeTokens = []string{
		"obrigad", "valeu", "gratidão", "gratidao", "agradeço", "agradeco",
		"boa noite", "até amanhã", "ate amanha", "até mais", "ate mais",
		"tchau", "bjs", "beijos", "abraço", "abraco",
	}
)

// Classify applies the phrase lists in precedence order: end and start
// intents beat gratitude, gratitude beats the bare-ack check.
func (PhraseClassifier) Classify(text string) Intent {
	norm := normalize(text)
	if norm == "" {
		return IntentNone
	}

	for _, p := range endPhrases {
		if strings.Contains(norm, p) {
			return IntentEnd
		}
	}
	for _, p := range startPhrases {
		if strings.Contains(norm, p) {
			return IntentStart
		}
	}
	if ackPhrases[norm] {
		return IntentAck
	}
	for _, p := range confirmPhrases {
		if strings.Contains(norm, p) {
			return IntentConfirm
		}
	}
	for _, tok := range gratitudeTokens {
		if strings.Contains(norm, tok) {
			return IntentGratitude
		}
	}
	return IntentNone
}

// normalize lowercases and strips trailing punctuation so "Ok!!" and
// "ok" classify the same.
func normalize(text string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	return strings.TrimRightFunc(norm, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
