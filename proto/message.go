package proto

// Turn is one conversation turn on the wire.
type Turn struct {
	Role    string
	Name    string
	Content string
}

// Usage carries token counts when the remote provider reports them.
type Usage struct {
	PromptTokens     int32
	CompletionTokens int32
	TotalTokens      int32
}
