package domain

// WorkflowRequest is one delegation to the external agenda pipeline.
type WorkflowRequest struct {
	UserID      string
	HubLocation string
	ThreadID    string
	Message     string
	Fields      map[string]any
}

// WorkflowResult is the pipeline's reply plus the updated field set, carried
// back into ConversationState verbatim.
type WorkflowResult struct {
	Reply  string
	Fields map[string]any
}
