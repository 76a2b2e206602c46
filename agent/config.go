package agent

// Config holds loop controller settings. The zero value is not useful;
// call DefaultConfig and override fields as needed.
type Config struct {
	// SystemPrompt seeds every provider conversation.
	SystemPrompt string

	// MaxIterations is the hard stop; exceeding it aborts the run
	// independent of loop detection.
	MaxIterations int

	// Workers bounds concurrent tool calls within one iteration.
	Workers int

	// DetectorWindow is how many recent iterations the loop detector
	// inspects.
	DetectorWindow int

	// DetectorThreshold is how many identical calls within the window
	// trigger a corrective signal.
	DetectorThreshold int

	// Stream asks the provider for streamed responses when true.
	Stream bool
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:      defaultSystemPrompt,
		MaxIterations:     50,
		Workers:           4,
		DetectorWindow:    6,
		DetectorThreshold: 3,
		Stream:            true,
	}
}

const defaultSystemPrompt = `You are a capable autonomous coding assistant operating inside a workspace.

Work toward the user's goal step by step:
1. Inspect before you act: read files and search before editing.
2. Use the available tools; never invent tool names or output.
3. When a tool fails, read the error and adapt instead of repeating the call.
4. When the goal is satisfied, reply with a final answer and no tool calls.

Keep final answers concise and grounded in what the tools actually returned.`
