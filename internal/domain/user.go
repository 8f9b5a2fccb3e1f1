// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUserIDEmpty     = errors.New("user id empty")
)

type UserID string

// User is the identity payload the server sends for roster entries and join/leave events.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
}

func (u *User) Validate() error {
	if u.ID == "" {
		return ErrUserIDEmpty
	}
	if len(u.Username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

// DisplayName prefers the full name and falls back to the username.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
