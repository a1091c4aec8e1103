package model

// User is the authenticated identity attached to a request. Accounts are owned
// by an external service; only the token claims reach this process.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

// Authenticated reports whether u represents a signed-in user.
func (u *User) Authenticated() bool {
	return u != nil && u.ID > 0
}

// DisplayName is the label used in chat and participant lists.
func (u *User) DisplayName() string {
	if !u.Authenticated() {
		return GuestUsername
	}
	return u.Username
}
