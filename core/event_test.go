package core

import (
	"encoding/json"
	"testing"
)

func TestStreamEvent_WireShapes(t *testing.T) {
	tests := []struct {
		name string
		ev   StreamEvent
		want string
	}{
		{"message", NewMessageEvent("Hola"), `{"type":"message","content":"Hola"}`},
		{
			"bestAnswer",
			NewBestAnswerEvent(BestAnswer{ID: "42", Intent: "precio_x70", Content: "Desde USD 25000"}),
			`{"type":"bestAnswer","idBestAnswer":"42","intentMetadata":"precio_x70","contentBestAnswer":"Desde USD 25000"}`,
		},
		{
			"interrupt",
			NewInterruptEvent(InterruptPayload{Task: InterruptTask, Generated: "draft"}),
			`{"type":"interrupt","payload":{"task":"Revisar la respuesta generada por el agente.","generated":"draft"}}`,
		},
		{"error", NewErrorEvent("boom"), `{"type":"error","detail":"boom"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(b) != tt.want {
				t.Fatalf("got %s want %s", b, tt.want)
			}
		})
	}
}

func TestStreamEvent_DecodeInterrupt(t *testing.T) {
	var ev StreamEvent
	raw := `{"type":"interrupt","payload":{"task":"t","generated":"g","toolCalls":[{"callId":"c1","toolName":"createLead"}]}}`
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != EventInterrupt || ev.Interrupt == nil || ev.Interrupt.Generated != "g" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(ev.Interrupt.ToolCalls) != 1 || ev.Interrupt.ToolCalls[0].Name != "createLead" {
		t.Fatalf("tool calls not decoded: %+v", ev.Interrupt.ToolCalls)
	}
}

func TestStreamEvent_Terminal(t *testing.T) {
	if NewMessageEvent("x").Terminal() || NewBestAnswerEvent(BestAnswer{}).Terminal() {
		t.Fatalf("message and bestAnswer must not be terminal")
	}
	if !NewErrorEvent("x").Terminal() || !NewInterruptEvent(InterruptPayload{}).Terminal() {
		t.Fatalf("error and interrupt must be terminal")
	}
}

func TestStreamEvent_UnknownTypeRejected(t *testing.T) {
	if _, err := json.Marshal(StreamEvent{Type: "bogus"}); err == nil {
		t.Fatalf("expected marshal error")
	}
	var ev StreamEvent
	if err := json.Unmarshal([]byte(`{"type":"bogus"}`), &ev); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}
