package scenario

import (
	"encoding/json"
	"strings"

	"github.com/antzucaro/matchr"
)

// maxFieldLen is the longest accepted field value. Model extractions beyond
// this are almost always the model echoing the whole utterance back.
const maxFieldLen = 80

// fillerStoplist rejects acknowledgement noise for any field.
var fillerStoplist = map[string]bool{
	"thanks":    true,
	"thank you": true,
	"ok":        true,
	"okay":      true,
	"yes":       true,
	"no":        true,
}

// vagueGoalStoplist rejects purposes too generic to build a scenario around.
var vagueGoalStoplist = map[string]bool{
	"talk":             true,
	"chat":             true,
	"speak":            true,
	"conversation":     true,
	"practice":         true,
	"practice english": true,
	"help":             true,
	"something":        true,
	"just talk":        true,
}

// nearMatchGoals are the short stoplist entries also rejected on a close
// spelling (transcription artifacts like "tak" or "chatt").
var nearMatchGoals = []string{"talk", "chat", "speak", "help"}

// SanitizeField validates a single extracted field value. It returns the
// trimmed value, or "" when the value is empty, too long, or a filler
// acknowledgement rather than real content.
func SanitizeField(value string) string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || len(cleaned) > maxFieldLen {
		return ""
	}
	if fillerStoplist[strings.ToLower(cleaned)] {
		return ""
	}
	return cleaned
}

// SanitizeGoal validates a goal value. On top of [SanitizeField] it rejects
// the vague-purpose stoplist and short (two words or fewer) near-matches of
// its core entries, since "tak" or "chats" carry no more signal than "talk".
func SanitizeGoal(value string) string {
	cleaned := SanitizeField(value)
	if cleaned == "" {
		return ""
	}
	lowered := strings.ToLower(cleaned)
	if vagueGoalStoplist[lowered] {
		return ""
	}
	if len(strings.Fields(lowered)) <= 2 {
		for _, stop := range nearMatchGoals {
			if matchr.Levenshtein(lowered, stop) <= 1 {
				return ""
			}
		}
	}
	return cleaned
}

// sanitizeFields applies per-field sanitization to a raw extraction.
func sanitizeFields(raw map[string]any) Fields {
	return Fields{
		Place:   SanitizeField(stringOrEmpty(raw["place"])),
		Partner: SanitizeField(stringOrEmpty(raw["partner"])),
		Goal:    SanitizeGoal(stringOrEmpty(raw["goal"])),
	}
}

// stringOrEmpty returns v if it is a string, "" otherwise. Models sometimes
// return JSON null or nested objects for a field; both are rejected.
func stringOrEmpty(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// ExtractJSONObject locates and parses the first balanced-brace JSON object
// anywhere in text. Model output routinely wraps the object in prose, so the
// scan is brace-depth based rather than a bare json.Unmarshal. Returns nil
// when no parseable object is found.
func ExtractJSONObject(text string) map[string]any {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				var data map[string]any
				if err := json.Unmarshal([]byte(text[start:i+1]), &data); err != nil {
					return nil
				}
				return data
			}
		}
	}
	return nil
}

// ParseExtraction turns raw model output (ideally JSON, possibly JSON inside
// prose) into sanitized Fields. Unparseable output yields the zero value.
func ParseExtraction(text string) Fields {
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		data = ExtractJSONObject(text)
	}
	if data == nil {
		return Fields{}
	}
	return sanitizeFields(data)
}
