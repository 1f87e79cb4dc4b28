package agent

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseEvent(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want EventType
	}{
		{"initiation", `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"c1"}}`, EventConversationInitiation},
		{"audio", `{"type":"audio","audio_event":{"audio_base_64":"AAAA"}}`, EventAudio},
		{"agent response", `{"type":"agent_response","agent_response_event":{"agent_response":"Hello"}}`, EventAgentResponse},
		{"correction", `{"type":"agent_response_correction","agent_response_correction_event":{"corrected_agent_response":"Hi"}}`, EventAgentCorrection},
		{"user transcript", `{"type":"user_transcript","user_transcription_event":{"user_transcript":"yes"}}`, EventUserTranscript},
		{"voicemail", `{"type":"voicemail_detected"}`, EventVoicemailDetected},
		{"interruption", `{"type":"interruption","interruption_event":{"reason":"user"}}`, EventInterruption},
		{"ping", `{"type":"ping","ping_event":{"event_id":7}}`, EventPing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseEvent: %v", err)
			}
			if ev.Type != tc.want {
				t.Fatalf("expected type %q, got %q", tc.want, ev.Type)
			}
		})
	}
}

func TestParseEventPayloads(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"audio","audio_event":{"audio_base_64":"AAAA"}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Audio == nil || ev.Audio.AudioBase64 != "AAAA" {
		t.Fatalf("unexpected audio payload: %+v", ev.Audio)
	}

	ev, err = ParseEvent([]byte(`{"type":"ping","ping_event":{"event_id":42}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Ping == nil || ev.Ping.EventID != 42 {
		t.Fatalf("unexpected ping payload: %+v", ev.Ping)
	}
}

func TestParseEventRejectsUnknownType(t *testing.T) {
	_, err := ParseEvent([]byte(`{"type":"something_else"}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestParseEventRejectsMissingPayload(t *testing.T) {
	if _, err := ParseEvent([]byte(`{"type":"audio"}`)); err == nil {
		t.Fatal("expected error for audio event without payload")
	}
}

func TestNewDynamicVariablesDefaults(t *testing.T) {
	v := NewDynamicVariables(ContactInfo{}, "Expert Home Builders")

	if v["first_name"] != "Customer" {
		t.Fatalf("expected default first_name, got %q", v["first_name"])
	}
	if v["appointment_date"] != "your scheduled date" {
		t.Fatalf("expected default appointment_date, got %q", v["appointment_date"])
	}
	if v["appointment_time"] != "your scheduled time" {
		t.Fatalf("expected default appointment_time, got %q", v["appointment_time"])
	}
	if v["product"] != "home improvement service" {
		t.Fatalf("expected default product, got %q", v["product"])
	}
	if v["company_name"] != "Expert Home Builders" {
		t.Fatalf("expected company name, got %q", v["company_name"])
	}
	if v["new_date"] != "" || v["new_time"] != "" {
		t.Fatalf("expected empty reschedule slots, got %q/%q", v["new_date"], v["new_time"])
	}
}

func TestNewDynamicVariablesFromContact(t *testing.T) {
	v := NewDynamicVariables(ContactInfo{
		RecordID:        "101",
		FirstName:       "Maria",
		LastName:        "Lopez",
		Phone:           "+15551234567",
		AppointmentDate: "2026-03-09",
		AppointmentTime: "14:30:00",
		Product:         "Windows",
	}, "Acme Remodeling")

	if v["first_name"] != "Maria" || v["last_name"] != "Lopez" {
		t.Fatalf("unexpected name vars: %q %q", v["first_name"], v["last_name"])
	}
	if v["appointment_date"] != "Monday, March 9, 2026" {
		t.Fatalf("unexpected spoken date: %q", v["appointment_date"])
	}
	if v["appointment_time"] != "2:30 PM" {
		t.Fatalf("unexpected spoken time: %q", v["appointment_time"])
	}
	if v["record_id"] != "101" {
		t.Fatalf("unexpected record_id: %q", v["record_id"])
	}
}

func TestFormatSpokenTime(t *testing.T) {
	cases := map[string]string{
		"14:30:00": "2:30 PM",
		"09:05":    "9:05 AM",
		"00:15:00": "12:15 AM",
		"noon":     "noon",
		"":         "",
	}
	for in, want := range cases {
		if got := FormatSpokenTime(in); got != want {
			t.Fatalf("FormatSpokenTime(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInitMessageWireShape(t *testing.T) {
	msg := NewInitMessage(DynamicVariables{"first_name": "Maria"})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "conversation_initiation_client_data" {
		t.Fatalf("unexpected type: %v", decoded["type"])
	}
	vars, ok := decoded["dynamic_variables"].(map[string]any)
	if !ok || vars["first_name"] != "Maria" {
		t.Fatalf("expected top-level dynamic_variables, got %v", decoded)
	}
}
