package model

// AssistantRequest is a fire-and-forget job for the assistant/document
// service. Exactly one of Message or File is set.
type AssistantRequest struct {
	Requester Identity
	ChannelID string
	ThreadID  string
	Message   *Message
	File      *File
}
