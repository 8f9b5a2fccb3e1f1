package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCodedError(t *testing.T) {
	cases := []struct {
		code, server, want string
	}{
		{CodeAuthFailed, "token expired", "Authentication failed. Please log in again."},
		{CodeRoomNotFound, "", "Room not found or has been deleted."},
		{CodeRoomNotLive, "x", "Room is not currently active."},
		{"RATE_LIMITED", "slow down", "slow down"},
		{"", "", "Connection error occurred"},
	}
	for _, c := range cases {
		err := NewCodedError(c.code, c.server)
		assert.Equal(t, c.want, err.Error(), c.code)
		assert.Equal(t, c.code, err.Code)
	}
}
