package prompts

import "fmt"

// onboardingTemplate extracts long-term profile fields after a user's
// first completed session.
const onboardingTemplate = `A transcrição abaixo é da primeira sessão estruturada de uma pessoa. Extraia o perfil dela como JSON.
O JSON deve ter exatamente estes campos:

{
  "support_style": "como a pessoa prefere ser apoiada (ex: acolhedor, direto, prático, reflexivo)",
  "main_challenges": "os principais desafios emocionais mencionados, em uma frase",
  "therapy_history": "experiência anterior com terapia ou acompanhamento, em uma frase"
}

Baseie-se apenas no que a pessoa realmente disse. Campos sem evidência ficam como string vazia.

Transcrição:
%s

JSON:`

// OnboardingPrompt returns the fully interpolated first-session profile
// extraction prompt.
func OnboardingPrompt(transcript string) string {
	return fmt.Sprintf(onboardingTemplate, transcript)
}
