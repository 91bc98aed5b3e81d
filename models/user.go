package models

// Role represents a user's role on the platform.
type Role string

const (
	Student Role = "student"
	Teacher Role = "teacher"
	Admin   Role = "admin"
)

// User represents a participant in a module.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
	// Tier is the user's subscription tier.
	Tier   string `json:"tier,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	// Online is mutated by presence events. The rest of the identity is
	// immutable for the session.
	Online bool `json:"online"`
}
