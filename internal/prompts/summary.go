package prompts

import "fmt"

// summaryTemplate asks for structured close-time session metadata. The
// single format verb is the transcript text.
const summaryTemplate = `Analise a transcrição abaixo de uma sessão de apoio emocional e produza metadados estruturados como JSON.
O JSON deve ter exatamente estes campos:

{
  "summary": "resumo de 2-4 frases cobrindo o que foi trabalhado e como a pessoa saiu da sessão",
  "insights": ["percepção importante 1", "percepção importante 2 (2-5 itens)"],
  "commitments": ["compromisso combinado 1 (apenas o que a pessoa de fato aceitou fazer)"]
}

Seja fiel ao que aconteceu. Não invente compromissos que não foram combinados.

Transcrição:
%s

JSON:`

// SummaryPrompt returns the fully interpolated close-time summarization
// prompt.
func SummaryPrompt(transcript string) string {
	return fmt.Sprintf(summaryTemplate, transcript)
}
