package clients

import "mecha/internal/llm"

// All returns one client per supported provider, in registration order.
func All() []llm.Client {
	return []llm.Client{
		NewAnthropic(),
		NewOpenAI(),
		NewOllama(),
		NewTogetherAI(),
		NewFireworks(),
		NewOpenRouter(),
		NewCodeStory(),
		NewGoogle(),
	}
}
