package conversation

import "strings"

// defaultPersona is the base system prompt used when no instruction template
// is configured.
const defaultPersona = "You are a helpful and friendly English tutor named 'Malang'. Speak naturally."

// Template placeholders substituted by [Instructions.InjectContext].
const (
	placeholderTitle    = "{{SESSION_TITLE}}"
	placeholderKeyInfo1 = "{{KEY_INFO_1}}"
	placeholderKeyInfo2 = "{{KEY_INFO_2}}"
	placeholderKeyInfo3 = "{{KEY_INFO_3}}"
)

// Defaults used when a context field is absent.
const (
	defaultTitle   = "Free Conversation"
	defaultPlace   = "Anywhere"
	defaultPartner = "Friend"
	defaultGoal    = "Just chat"
)

// Context carries the per-session values substituted into the instruction
// template: the session title and the scenario fields.
type Context struct {
	Title   string
	Place   string
	Partner string
	Goal    string
}

// Instructions assembles the system prompt from three layers:
//
//  1. base: the persona template, with session context substituted in
//  2. user: extra requirements requested by the client mid-session
//  3. dynamic: state-driven adjustments (pace guidance from WPM tracking)
//
// The layers are kept separate so updating one never clobbers another; every
// read recombines them in a fixed order. Instructions is not safe for
// concurrent use; the owning session serializes access.
type Instructions struct {
	template string
	base     string
	user     string
	dynamic  string
}

// NewInstructions creates an Instructions from the given persona template.
// An empty template falls back to the built-in default persona.
func NewInstructions(template string) *Instructions {
	template = strings.TrimSpace(template)
	if template == "" {
		template = defaultPersona
	}
	return &Instructions{template: template, base: template}
}

// InjectContext substitutes session context into the persona template and
// rebuilds the base layer. The untouched template is kept so repeated
// injection never compounds.
func (i *Instructions) InjectContext(ctx Context) {
	i.base = strings.NewReplacer(
		placeholderTitle, valueOr(ctx.Title, defaultTitle),
		placeholderKeyInfo1, valueOr(ctx.Place, defaultPlace),
		placeholderKeyInfo2, valueOr(ctx.Partner, defaultPartner),
		placeholderKeyInfo3, valueOr(ctx.Goal, defaultGoal),
	).Replace(i.template)
}

// SetUserLayer replaces the client-requested instruction layer.
func (i *Instructions) SetUserLayer(text string) {
	i.user = text
}

// SetDynamicLayer replaces the state-driven layer and reports whether it
// actually changed. Callers skip the session.update when it did not.
func (i *Instructions) SetDynamicLayer(text string) bool {
	if i.dynamic == text {
		return false
	}
	i.dynamic = text
	return true
}

// Assemble combines the three layers into the final system instructions.
func (i *Instructions) Assemble() string {
	var b strings.Builder
	b.WriteString(i.base)
	if i.user != "" {
		b.WriteString("\n\n[User Requirement]\n")
		b.WriteString(i.user)
	}
	if i.dynamic != "" {
		b.WriteString("\n\n[Dynamic Adjustment]\n")
		b.WriteString(i.dynamic)
	}
	return b.String()
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
