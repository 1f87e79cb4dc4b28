package telephony

import (
	"strings"
	"testing"
)

func TestRenderStreamTwiML(t *testing.T) {
	xml, err := RenderStreamTwiML("wss://confirmer.example.com/media-stream", map[string]string{
		"tempId": "tok-1",
		"leadId": "101",
	})
	if err != nil {
		t.Fatalf("RenderStreamTwiML: %v", err)
	}

	for _, want := range []string{
		`<Connect>`,
		`url="wss://confirmer.example.com/media-stream"`,
		`name="leadId"`,
		`value="101"`,
		`name="tempId"`,
		`value="tok-1"`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in twiml:\n%s", want, xml)
		}
	}

	// Parameters render in stable order.
	if strings.Index(xml, "leadId") > strings.Index(xml, "tempId") {
		t.Fatalf("expected sorted parameter order:\n%s", xml)
	}
}

func TestRenderStreamTwiMLEscapesValues(t *testing.T) {
	xml, err := RenderStreamTwiML("wss://host/ms", map[string]string{"leadId": `a"b<c`})
	if err != nil {
		t.Fatalf("RenderStreamTwiML: %v", err)
	}
	if strings.Contains(xml, `a"b<c`) {
		t.Fatalf("expected escaped parameter value:\n%s", xml)
	}
}

func TestRenderHangupTwiML(t *testing.T) {
	xml, err := RenderHangupTwiML()
	if err != nil {
		t.Fatalf("RenderHangupTwiML: %v", err)
	}
	if !strings.Contains(xml, "<Hangup") {
		t.Fatalf("expected hangup verb:\n%s", xml)
	}
}
