package conversation

import (
	"strings"
	"testing"
)

func TestInstructions_DefaultPersona(t *testing.T) {
	i := NewInstructions("")
	if got := i.Assemble(); !strings.Contains(got, "Malang") {
		t.Errorf("assembled = %q, want the default persona", got)
	}
}

func TestInstructions_InjectContext(t *testing.T) {
	template := "Session: {{SESSION_TITLE}}. Place: {{KEY_INFO_1}}. Partner: {{KEY_INFO_2}}. Goal: {{KEY_INFO_3}}."
	i := NewInstructions(template)

	i.InjectContext(Context{
		Title:   "Cafe practice",
		Place:   "a cafe",
		Partner: "a barista",
		Goal:    "order a coffee",
	})
	want := "Session: Cafe practice. Place: a cafe. Partner: a barista. Goal: order a coffee."
	if got := i.Assemble(); got != want {
		t.Errorf("assembled = %q, want %q", got, want)
	}
}

func TestInstructions_InjectContextDefaults(t *testing.T) {
	template := "{{SESSION_TITLE}} / {{KEY_INFO_1}} / {{KEY_INFO_2}} / {{KEY_INFO_3}}"
	i := NewInstructions(template)

	i.InjectContext(Context{})
	want := "Free Conversation / Anywhere / Friend / Just chat"
	if got := i.Assemble(); got != want {
		t.Errorf("assembled = %q, want %q", got, want)
	}
}

func TestInstructions_RepeatedInjectionDoesNotCompound(t *testing.T) {
	i := NewInstructions("Place: {{KEY_INFO_1}}")

	i.InjectContext(Context{Place: "a cafe"})
	i.InjectContext(Context{Place: "the airport"})
	if got := i.Assemble(); got != "Place: the airport" {
		t.Errorf("assembled = %q, want the second injection to win", got)
	}
}

func TestInstructions_LayerAssembly(t *testing.T) {
	i := NewInstructions("Base persona.")
	i.SetUserLayer("Use simple vocabulary.")
	if !i.SetDynamicLayer("Speak slowly.") {
		t.Fatal("SetDynamicLayer reported no change for a new value")
	}

	got := i.Assemble()
	want := "Base persona.\n\n[User Requirement]\nUse simple vocabulary.\n\n[Dynamic Adjustment]\nSpeak slowly."
	if got != want {
		t.Errorf("assembled = %q, want %q", got, want)
	}

	// Clearing a layer removes its section entirely.
	i.SetUserLayer("")
	if got := i.Assemble(); strings.Contains(got, "[User Requirement]") {
		t.Errorf("assembled = %q, want no user section", got)
	}
}

func TestInstructions_SetDynamicLayerReportsChange(t *testing.T) {
	i := NewInstructions("Base.")
	if !i.SetDynamicLayer("Speak slowly.") {
		t.Error("first set must report a change")
	}
	if i.SetDynamicLayer("Speak slowly.") {
		t.Error("identical set must report no change")
	}
	if !i.SetDynamicLayer("") {
		t.Error("clearing must report a change")
	}
}
