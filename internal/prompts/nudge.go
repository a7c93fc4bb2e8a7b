package prompts

import (
	"fmt"
	"strings"
)

// nudgeTemplate generates a short follow-up message for a user who went
// quiet mid-conversation. Format verbs: name, topic, tone, cautions.
const nudgeTemplate = `Você é a Aura, companheira de apoio emocional no WhatsApp. %s parou de responder no meio de uma conversa.

Contexto da conversa: %s
Tom da conversa: %s%s

Escreva UMA mensagem curta (no máximo 2 frases) retomando o contato com carinho, sem cobrar resposta e sem soar automática. Responda apenas com a mensagem, sem aspas e sem tags.`

// NudgePrompt returns the fully interpolated follow-up nudge prompt.
func NudgePrompt(name, topic, tone, cautions string) string {
	if name == "" {
		name = "A pessoa"
	}
	if topic == "" {
		topic = "uma conversa sobre como ela está se sentindo"
	}
	if tone == "" {
		tone = "acolhedor"
	}
	var caution string
	if strings.TrimSpace(cautions) != "" {
		caution = fmt.Sprintf("\nCuidados: %s", cautions)
	}
	return fmt.Sprintf(nudgeTemplate, name, topic, tone, caution)
}
