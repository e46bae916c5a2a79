package dto

// CreateMessageRequest creates a new message under a chat
type CreateMessageRequest struct {
	Text string `json:"text" validate:"required,min=1"`
}

// CreateMessageResponse acknowledges a fire-and-forget message creation
type CreateMessageResponse struct {
	Number  int64  `json:"number"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// MessageDTO is the public view of a message
type MessageDTO struct {
	Number    int64  `json:"number"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// ListMessagesResponse returns a chat together with its (optionally
// keyword-filtered) messages
type ListMessagesResponse struct {
	Chat     ChatDTO      `json:"chat"`
	Messages []MessageDTO `json:"messages"`
}
