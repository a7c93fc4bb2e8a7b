package prompts

import (
	"strings"
	"testing"
)

func TestSystemPrompt_LastCheckinBlock(t *testing.T) {
	tc := TurnContext{UserName: "Clara", Plan: "essencial", LocalNow: "segunda-feira, 31/08/2026 19:04"}

	if got := SystemPrompt(tc); strings.Contains(got, "Último check-in") {
		t.Error("check-in block present without a reading")
	}

	tc.LastCheckin = "humor ansiosa, energia 2/5 (31/08 19:00)"
	got := SystemPrompt(tc)
	if !strings.Contains(got, "## Último check-in\nhumor ansiosa, energia 2/5") {
		t.Errorf("check-in block missing:\n%s", got)
	}
}

func TestSystemPrompt_InterruptedContentDecision(t *testing.T) {
	tc := TurnContext{UserName: "Clara", Plan: "essencial", LocalNow: "segunda-feira, 31/08/2026 19:04",
		InterruptedContent: "respira comigo um momento"}

	got := SystemPrompt(tc)
	if !strings.Contains(got, "respira comigo um momento") {
		t.Fatalf("pending content missing:\n%s", got)
	}
	// The model must weigh the pending content against the new message,
	// not resend or drop it blindly.
	if !strings.Contains(got, "mudou de assunto") || !strings.Contains(got, "Nunca reenvie igual") {
		t.Errorf("resume block lacks the discard-or-fold instruction:\n%s", got)
	}
}
