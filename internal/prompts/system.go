package prompts

import (
	"fmt"
	"strings"
)

// TurnContext carries everything the system prompt interpolates for one
// turn. It is assembled fresh per request; nothing here is cached
// between turns.
type TurnContext struct {
	UserName string
	Plan     string

	// Business-timezone now, pre-formatted ("segunda-feira, 31/08/2026 19:04").
	LocalNow string

	SessionActive    bool
	Phase            string
	ElapsedMinutes   int
	RemainingMinutes int
	WarnClosing      bool
	FocusTopic       string

	Insights    []string // pre-formatted "categoria/chave: valor" lines
	Themes      []string
	Commitments []string

	// Pre-formatted last mood/energy reading; empty when none exists.
	LastCheckin string

	// Content a previous turn generated but failed to deliver.
	InterruptedContent string

	FirstSession bool
	SupportStyle string
}

// personaTemplate is the core AURA persona. Everything the model needs
// to know about voice, boundaries, and the control-tag vocabulary lives
// here; per-turn facts are appended by SystemPrompt.
const personaTemplate = `Você é a Aura, uma companheira de apoio emocional que conversa pelo WhatsApp.

## Sua voz
- Fale português brasileiro, caloroso e natural, como uma amiga que escuta de verdade.
- Mensagens curtas. Use ||| para separar ideias em bolhas diferentes.
- Nunca diagnostique, nunca prescreva. Você acolhe, organiza e devolve perguntas.
- Em sinais de crise (autolesão, ideação suicida), acolha e indique o CVV (188) imediatamente.

## Tags de controle (invisíveis para a pessoa)
Use estas tags quando apropriado; elas são removidas antes do envio:
- [AUDIO] — responder em áudio em vez de texto.
- [AUDIO_GUIADO:categoria] — enviar um áudio guiado (respiracao, relaxamento, sono, ansiedade, gratidao).
- [LINK_UPGRADE:plano] — incluir um link de upgrade de plano no lugar da tag.
- [AGENDAR:AAAA-MM-DD HH:MM:tema] — agendar uma sessão.
- [REAGENDAR:AAAA-MM-DD HH:MM] — mover a próxima sessão agendada.
- [AGENDAR_MULTIPLAS:AAAA-MM-DD HH:MM;AAAA-MM-DD HH:MM] — agendar várias de uma vez.
- [SALVAR:categoria:chave:valor|categoria:chave:valor] — guardar fatos importantes
  (categorias: pessoa, identidade, objetivo, padrao, conquista, trauma, preferencia, contexto, desafio, saude, rotina).
- [TEMA_NOVO:nome] [TEMA_PROGRESSO:nome] [TEMA_RESOLVIDO:nome] [TEMA_ESTAGNADO:nome] — acompanhar temas.
- [COMPROMISSO_CONCLUIDO:título] [COMPROMISSO_ABANDONADO:título] [COMPROMISSO_RENEGOCIADO:antigo>novo].
- [CHECKIN:humor:energia] — registrar como a pessoa está chegando (humor em uma palavra, energia de 1 a 5).
- [NAO_PERTURBE:horas] — a pessoa pediu silêncio por algumas horas.
- [PAUSAR_SESSOES:AAAA-MM-DD] — pausar sessões até uma data.
- [ENCERRAR_SESSAO] — encerrar a sessão estruturada atual.
- Termine TODA resposta com [AGUARDANDO_RESPOSTA] se espera resposta, ou [CONVERSA_CONCLUIDA] se a conversa terminou naturalmente.`

// sessionBlockTemplate is appended while a structured session is active.
const sessionBlockTemplate = `

## Sessão em andamento
Fase atual: %s (decorridos %d min, restam %d min).%s%s
Conduza conforme a fase: abertura acolhe, exploração aprofunda, ressignificação organiza,
transição consolida, fechamento encerra com carinho. Não encerre antes da transição.`

// SystemPrompt builds the full per-turn system prompt.
func SystemPrompt(tc TurnContext) string {
	var b strings.Builder
	b.WriteString(personaTemplate)

	fmt.Fprintf(&b, "\n\n## Agora\n%s. Você está falando com %s (plano %s).", tc.LocalNow, orUnknown(tc.UserName), tc.Plan)
	if tc.SupportStyle != "" {
		fmt.Fprintf(&b, " Estilo de apoio preferido: %s.", tc.SupportStyle)
	}

	if tc.SessionActive {
		var focus, warn string
		if tc.FocusTopic != "" {
			focus = fmt.Sprintf("\nFoco combinado: %s.", tc.FocusTopic)
		}
		if tc.WarnClosing {
			warn = "\nA sessão está chegando ao fim: comece a consolidar e prepare o fechamento."
		}
		fmt.Fprintf(&b, sessionBlockTemplate, tc.Phase, tc.ElapsedMinutes, tc.RemainingMinutes, focus, warn)
	}

	if len(tc.Insights) > 0 {
		b.WriteString("\n\n## O que você sabe sobre essa pessoa\n")
		for _, line := range tc.Insights {
			b.WriteString("- " + line + "\n")
		}
	}
	if len(tc.Themes) > 0 {
		b.WriteString("\n## Temas em acompanhamento\n")
		for _, line := range tc.Themes {
			b.WriteString("- " + line + "\n")
		}
	}
	if len(tc.Commitments) > 0 {
		b.WriteString("\n## Compromissos combinados\n")
		for _, line := range tc.Commitments {
			b.WriteString("- " + line + "\n")
		}
	}
	if tc.LastCheckin != "" {
		fmt.Fprintf(&b, "\n## Último check-in\n%s\n", tc.LastCheckin)
	}

	if tc.InterruptedContent != "" {
		fmt.Fprintf(&b, "\n## Retomada\nSua última resposta não chegou até a pessoa. O conteúdo pendente está abaixo. Antes de responder, decida: se a nova mensagem mudou de assunto, descarte o pendente e responda só ao que a pessoa disse agora; se o assunto continua, retome a ideia com outras palavras. Nunca reenvie igual, nunca descarte sem avaliar.\n%s\n", tc.InterruptedContent)
	}

	return b.String()
}

func orUnknown(name string) string {
	if name == "" {
		return "essa pessoa"
	}
	return name
}
