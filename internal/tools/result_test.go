package tools

import (
	"encoding/json"
	"testing"
)

func TestExtractTextItems(t *testing.T) {
	p := ItemsPayload([]Item{
		{Title: "A", Snippet: "B"},
		{Title: "", Snippet: "only snippet"},
		{Title: "", Snippet: ""},
	})
	got := p.ExtractText()
	want := "A: B\n\nonly snippet"
	if got != want {
		t.Fatalf("ExtractText = %q, want %q", got, want)
	}
}

func TestExtractTextObject(t *testing.T) {
	p := ObjectPayload(map[string]interface{}{"stars": 42})
	got := p.ExtractText()
	var back map[string]interface{}
	if err := json.Unmarshal([]byte(got), &back); err != nil {
		t.Fatalf("object payload did not serialize as JSON: %v (%q)", err, got)
	}
	if back["stars"].(float64) != 42 {
		t.Fatalf("round-tripped object = %v", back)
	}
}

func TestExtractTextEmptyKind(t *testing.T) {
	if got := (Payload{}).ExtractText(); got != "" {
		t.Fatalf("zero payload extracted %q, want empty", got)
	}
}

func TestNormalizePayload(t *testing.T) {
	p := NormalizePayload(json.RawMessage(`[{"title":"A","snippet":"B"}]`))
	if p.Kind != KindItems {
		t.Fatalf("kind = %s, want items", p.Kind)
	}
	if got := p.ExtractText(); got != "A: B" {
		t.Fatalf("ExtractText = %q, want %q", got, "A: B")
	}

	p = NormalizePayload(json.RawMessage(`"plain text"`))
	if p.Kind != KindText || p.Text != "plain text" {
		t.Fatalf("string payload = %+v", p)
	}

	p = NormalizePayload(json.RawMessage(`{"answer":7}`))
	if p.Kind != KindObject {
		t.Fatalf("object payload kind = %s", p.Kind)
	}
}

func TestDecodeEndpointResponse(t *testing.T) {
	inv := decodeEndpointResponse(json.RawMessage(`{"success":true,"data":[{"title":"A","snippet":"B"}]}`))
	if !inv.Success {
		t.Fatalf("expected success, got %+v", inv)
	}
	if got := inv.Payload.ExtractText(); got != "A: B" {
		t.Fatalf("ExtractText = %q", got)
	}

	inv = decodeEndpointResponse(json.RawMessage(`{"success":false,"error":"backend down"}`))
	if inv.Success || inv.Error != "backend down" {
		t.Fatalf("expected reported failure, got %+v", inv)
	}

	inv = decodeEndpointResponse(json.RawMessage(`{"success":false}`))
	if inv.Success || inv.Error == "" {
		t.Fatalf("failure without message should get a default, got %+v", inv)
	}
}
