package json

import "testing"

func TestExtractJSONPure(t *testing.T) {
	in := `{"a": 1, "b": "two"}`
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != in {
		t.Errorf("expected %q, got %q", in, out)
	}
}

func TestExtractJSONFenced(t *testing.T) {
	in := "```json\n{\"key\": \"value\"}\n```"
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != `{"key": "value"}` {
		t.Errorf("unexpected extraction: %q", out)
	}
}

func TestExtractJSONEmbedded(t *testing.T) {
	in := `Here is the summary you asked for: {"intent": "refactor"} hope it helps.`
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != `{"intent": "refactor"}` {
		t.Errorf("unexpected extraction: %q", out)
	}
}

func TestExtractJSONNoObject(t *testing.T) {
	if _, err := ExtractJSON("no json here at all"); err == nil {
		t.Fatal("expected error for response without JSON")
	}
}

func TestExtractInto(t *testing.T) {
	var got struct {
		Intent string `json:"intent"`
	}
	if err := ExtractInto(`prefix {"intent": "build"} suffix`, &got); err != nil {
		t.Fatalf("ExtractInto failed: %v", err)
	}
	if got.Intent != "build" {
		t.Errorf("expected intent %q, got %q", "build", got.Intent)
	}
}
