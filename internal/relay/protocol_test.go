package relay

import (
	"encoding/json"
	"testing"
)

func TestClientConfig_ToSettingsUpdate(t *testing.T) {
	instructions := "Use simple vocabulary."
	cfg := clientConfig{Voice: "verse", Instructions: &instructions}

	update := cfg.toSettingsUpdate()
	if update.Voice != "verse" {
		t.Errorf("voice = %q, want verse", update.Voice)
	}
	if update.Instructions == nil || *update.Instructions != instructions {
		t.Errorf("instructions = %v, want %q", update.Instructions, instructions)
	}

	empty := clientConfig{}
	update = empty.toSettingsUpdate()
	if update.Voice != "" || update.Instructions != nil {
		t.Errorf("update = %+v, want zero value", update)
	}
}

func TestClientMessage_Decode(t *testing.T) {
	data := []byte(`{"type":"session.update","config":{"voice":"verse","instructions":""}}`)
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != ClientTypeSessionUpdate {
		t.Errorf("type = %q, want session.update", msg.Type)
	}
	if msg.Config == nil || msg.Config.Voice != "verse" {
		t.Fatalf("config = %+v, want voice verse", msg.Config)
	}
	// An explicit empty string clears the user instruction layer, so the
	// pointer must survive decoding.
	if msg.Config.Instructions == nil || *msg.Config.Instructions != "" {
		t.Errorf("instructions = %v, want pointer to empty string", msg.Config.Instructions)
	}
}

func TestServerMessage_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(serverMessage{Type: ServerTypeSpeechStarted})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"speech.started"}` {
		t.Errorf("encoded = %s, want only the type field", data)
	}
}
