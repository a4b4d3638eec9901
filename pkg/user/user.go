// Package user implements the User record (§3): created on first verified
// identity token, immutable except username/email.
package user

import "time"

// User is a control-plane account, keyed by the external identity
// provider's subject claim.
type User struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Email      string    `json:"email"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
}
