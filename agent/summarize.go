package agent

import (
	"context"
	"fmt"
	"strings"

	"steward/history"
	jsonx "steward/internal/json"
	"steward/llm"
	"steward/model"
)

const summaryPrompt = `Summarize the following conversation segment between a coding agent and its tools.

Reply with a JSON object:
{
  "session_intent": "what the user wants to accomplish",
  "play_by_play": ["major actions taken, in order"],
  "artifact_trail": {"path/to/file": "what changed"},
  "pending_tasks": ["what remains to be done"]
}

Preserve decisions, files touched, and tool outcomes that matter for later steps.
Discard raw tool output bodies, pleasantries, and attempts that went nowhere.`

// NewSummarizer builds a compaction summarizer backed by the provider.
// Summaries go through the plain Chat path: no tools, no streaming. The
// model is asked for a structured TaskSummary so critical details survive
// repeated compression; unparseable replies fall back to the raw text.
func NewSummarizer(client *llm.Client) history.Summarizer {
	return func(ctx context.Context, turns []model.Turn) (string, error) {
		resp, err := client.Chat(ctx, []llm.ChatMessage{
			llm.SystemMessage(summaryPrompt),
			llm.UserMessage(renderTurns(turns)),
		})
		if err != nil {
			return "", fmt.Errorf("summarize %d turns: %w", len(turns), err)
		}

		var ts history.TaskSummary
		if err := jsonx.ExtractInto(resp.Content, &ts); err == nil {
			if rendered := renderTaskSummary(ts); rendered != "" {
				return rendered, nil
			}
		}

		summary := strings.TrimSpace(resp.Content)
		if summary == "" {
			return "", fmt.Errorf("summarize %d turns: provider returned empty summary", len(turns))
		}
		return summary, nil
	}
}

// renderTaskSummary flattens a structured summary into the text form stored
// on the compaction turn.
func renderTaskSummary(ts history.TaskSummary) string {
	var b strings.Builder
	if ts.SessionIntent != "" {
		fmt.Fprintf(&b, "Intent: %s\n", ts.SessionIntent)
	}
	if len(ts.PlayByPlay) > 0 {
		b.WriteString("Actions:\n")
		for _, step := range ts.PlayByPlay {
			fmt.Fprintf(&b, "- %s\n", step)
		}
	}
	if len(ts.ArtifactTrail) > 0 {
		b.WriteString("Files:\n")
		for path, change := range ts.ArtifactTrail {
			fmt.Fprintf(&b, "- %s: %s\n", path, change)
		}
	}
	if len(ts.PendingTasks) > 0 {
		b.WriteString("Pending:\n")
		for _, task := range ts.PendingTasks {
			fmt.Fprintf(&b, "- %s\n", task)
		}
	}
	return strings.TrimSpace(b.String())
}

// renderTurns flattens turns into a plain transcript for the summary request.
func renderTurns(turns []model.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		switch {
		case t.IsCompaction():
			fmt.Fprintf(&b, "[earlier summary] %s\n", t.Content)
		case t.Role == model.RoleUser:
			fmt.Fprintf(&b, "[user] %s\n", t.Content)
		case t.Role == model.RoleAgent:
			if t.Content != "" {
				fmt.Fprintf(&b, "[agent] %s\n", t.Content)
			}
			for _, call := range t.ToolCalls {
				fmt.Fprintf(&b, "[agent called] %s(%s)\n", call.Name, truncate(string(call.Args), 200))
			}
		case t.Role == model.RoleTool:
			for _, r := range t.ToolResults {
				fmt.Fprintf(&b, "[tool %s] %s\n", r.Status, truncate(renderResult(r), 400))
			}
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
