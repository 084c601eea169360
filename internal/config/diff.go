package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (listen address, database DSN, API keys) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged reports a new default voice for future sessions.
	// Live sessions keep the voice they negotiated.
	VoiceChanged bool
	NewVoice     string

	// InstructionsChanged reports a new instruction template path.
	InstructionsChanged bool

	// ScenarioChanged reports that scenario intake settings changed.
	ScenarioChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.InstructionsChanged || d.ScenarioChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.OpenAI.Voice != new.OpenAI.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.OpenAI.Voice
	}

	if old.Conversation.InstructionTemplatePath != new.Conversation.InstructionTemplatePath {
		d.InstructionsChanged = true
	}

	if old.Scenario != new.Scenario {
		d.ScenarioChanged = true
	}

	return d
}
