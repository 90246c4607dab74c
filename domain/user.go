package domain

// User is the durable principal record behind a session.
//
// Exactly one of PasswordHash or GoogleID is expected to be set for a real
// account; the schema does not enforce exclusivity.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	GoogleID     string `json:"-"`
	PasswordHash string `json:"-"`
}
