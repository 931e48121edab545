package stream

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeLineVariants(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind Kind
	}{
		{"user text", `{"type":"user","text":"do the thing"}`, KindUserText},
		{"assistant text", `{"type":"assistant","text":"working on it"}`, KindAssistantText},
		{"tool use", `{"type":"tool_use","tool_name":"bash","tool_input":{"command":"ls"}}`, KindToolUse},
		{"tool result", `{"type":"tool_result","output":{"stdout":"ok"},"is_error":false}`, KindToolResult},
		{"final", `{"type":"result","summary":"done"}`, KindFinal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeLine([]byte(tt.line))
			if err != nil {
				t.Fatalf("DecodeLine failed: %v", err)
			}
			if msg.Kind != tt.kind {
				t.Errorf("expected kind %q, got %q", tt.kind, msg.Kind)
			}
		})
	}
}

func TestDecodeLineFinalSummary(t *testing.T) {
	msg, err := DecodeLine([]byte(`{"type":"result","summary":"wrote /tmp/hello.txt"}`))
	if err != nil {
		t.Fatalf("DecodeLine failed: %v", err)
	}
	if msg.Summary != "wrote /tmp/hello.txt" {
		t.Errorf("unexpected summary %q", msg.Summary)
	}
}

func TestDecodeLineUnknownType(t *testing.T) {
	_, err := DecodeLine([]byte(`{"type":"telemetry"}`))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decodeErr.Type != "telemetry" {
		t.Errorf("expected offending type in error, got %q", decodeErr.Type)
	}
}

func TestDecodeLineMalformed(t *testing.T) {
	_, err := DecodeLine([]byte(`not json at all`))
	var framingErr *FramingError
	if !errors.As(err, &framingErr) {
		t.Fatalf("expected FramingError, got %v", err)
	}
	if framingErr.Truncated() {
		t.Error("non-object garbage should not read as truncated")
	}
}

func TestFramingErrorTruncated(t *testing.T) {
	tests := []struct {
		fragment  string
		truncated bool
	}{
		{`{"type":"tool_use","tool_na`, true},
		{`{"type":"user","text":"unterminated`, true},
		{`{"type":"user"} trailing garbage`, false},
		{`garbage`, false},
	}
	for _, tt := range tests {
		e := &FramingError{Fragment: tt.fragment}
		if got := e.Truncated(); got != tt.truncated {
			t.Errorf("Truncated(%q) = %v, want %v", tt.fragment, got, tt.truncated)
		}
	}
}

func TestToolSummary(t *testing.T) {
	msg, err := DecodeLine([]byte(`{"type":"tool_use","tool_name":"bash","tool_input":{"command":"ls"}}`))
	if err != nil {
		t.Fatalf("DecodeLine failed: %v", err)
	}
	line := ToolSummary(msg)
	if !strings.HasPrefix(line, "bash ") {
		t.Errorf("summary should lead with the tool name, got %q", line)
	}
}

func TestToolSummaryTruncatesLongInput(t *testing.T) {
	long := strings.Repeat("x", 500)
	line := ToolSummary(Message{Kind: KindToolUse, ToolName: "write", ToolInput: []byte(`"` + long + `"`)})
	if len(line) > 140 {
		t.Errorf("summary should be bounded, got %d chars", len(line))
	}
}
