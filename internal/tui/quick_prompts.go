package tui

// Quick prompts shown on an empty chat, one keypress away.
var quickPrompts = []struct {
	Label  string
	Prompt string
}{
	{
		Label:  "Audit a snippet",
		Prompt: "Audit this function for injection and memory-safety issues, then propose a hardened version:",
	},
	{
		Label:  "Translate code",
		Prompt: "Translate the following module to idiomatic Rust and explain the ownership decisions:",
	},
	{
		Label:  "Design review",
		Prompt: "Review this service design for failure modes under partial network outages:",
	},
	{
		Label:  "Explain an error",
		Prompt: "Explain this stack trace and give me the most likely root cause:",
	},
}
