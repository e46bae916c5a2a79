package dto

// CreateChatResponse acknowledges a fire-and-forget chat creation. The
// number is final at this point even though the row does not exist yet.
type CreateChatResponse struct {
	Number  int64  `json:"number"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// ChatDTO is the public view of a chat
type ChatDTO struct {
	Number        int64  `json:"number"`
	MessagesCount int64  `json:"messages_count"`
	CreatedAt     string `json:"created_at"`
}
