package dto

// CreateApplicationRequest creates a new root application
type CreateApplicationRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

// ApplicationDTO is the public view of an application. Token is the only
// identifier clients ever see; internal ids never leave the service.
type ApplicationDTO struct {
	Token      string `json:"token"`
	Name       string `json:"name"`
	ChatsCount int64  `json:"chats_count"`
	CreatedAt  string `json:"created_at"`
}
