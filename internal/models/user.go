package models

type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type UserRepository interface {
	GetByID(id int) (*User, error)
	// GetByName matches the exact display name; used by agent-handoff
	// chatbot leaves. Returns nil when no user matches.
	GetByName(name string) (*User, error)
}
