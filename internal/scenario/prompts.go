package scenario

import (
	"fmt"
	"strings"
)

// buildExtractionPrompt asks the model to pull scenario fields out of one
// utterance. The prompt forbids inference so that only explicitly stated
// values are merged; the fallback prompt is the place for guessing.
func buildExtractionPrompt(userText string) string {
	return "You extract scenario fields for English conversation practice.\n" +
		"Return JSON only with keys: place, partner, goal. Use null if missing.\n" +
		"partner means the conversation partner (e.g., staff), not a travel companion.\n" +
		"goal means the conversation purpose (e.g., check-in, order, ask for help).\n" +
		"Do not infer or guess. Only extract what the user explicitly said.\n" +
		fmt.Sprintf("User said: %q", userText)
}

// buildFollowUpPrompt asks for one short question targeting the missing fields.
func buildFollowUpPrompt(s *State, missing []string) string {
	return "You are a scenario-building agent for English conversation practice.\n" +
		"The field 'partner' means the conversation partner you will speak with (e.g., staff).\n" +
		fmt.Sprintf("Known: place=%s, partner=%s, goal=%s\n", s.Place, s.Partner, s.Goal) +
		fmt.Sprintf("Missing: %s\n", strings.Join(missing, ", ")) +
		"Ask one short question to fill the missing info (max 15 words)."
}

// buildFinalPrompt asks for a natural conversation opener for a complete scenario.
func buildFinalPrompt(s *State) string {
	return "You are a friendly English tutor.\n" +
		fmt.Sprintf("Scenario: place=%s, partner=%s, goal=%s\n", s.Place, s.Partner, s.Goal) +
		"Write 1-2 sentences to start the conversation naturally."
}

// buildFallbackPrompt asks the model to infer plausible values for whatever is
// still missing. Unlike extraction, guessing is the point here.
func buildFallbackPrompt(s *State) string {
	return "You are a scenario-building agent for English conversation practice.\n" +
		"Some fields are missing. Infer plausible values based on context.\n" +
		fmt.Sprintf("Known: place=%s, partner=%s, goal=%s\n", s.Place, s.Partner, s.Goal) +
		"Return JSON only with keys: place, partner, goal. Use null only if impossible.\n" +
		"Do not use vague values like 'someone'. Be specific (e.g., 'server', 'staff member').\n" +
		"Example output:\n" +
		`{"place":"airport","partner":"immigration officer","goal":"pass immigration"}` + "\n"
}
