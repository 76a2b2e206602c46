package agent

import (
	"context"
	"strings"
	"testing"

	"steward/llm"
	"steward/model"
)

func TestSummarizerRendersStructuredSummary(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{Content: "```json\n{\"session_intent\":\"fix the build\",\"play_by_play\":[\"read Makefile\"],\"artifact_trail\":{\"Makefile\":\"fixed target\"},\"pending_tasks\":[\"run tests\"]}\n```"},
	}}
	summarize := NewSummarizer(llm.NewClient(provider))

	out, err := summarize(context.Background(), []model.Turn{
		{Seq: 0, Role: model.RoleUser, Content: "fix the build"},
	})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	for _, want := range []string{"Intent: fix the build", "read Makefile", "Makefile: fixed target", "run tests"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestSummarizerFallsBackToPlainText(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{Content: "The agent fixed the build by editing the Makefile."},
	}}
	summarize := NewSummarizer(llm.NewClient(provider))

	out, err := summarize(context.Background(), []model.Turn{
		{Seq: 0, Role: model.RoleUser, Content: "fix the build"},
	})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if !strings.Contains(out, "fixed the build") {
		t.Errorf("unexpected summary: %q", out)
	}
}
