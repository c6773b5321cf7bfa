// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strconv"
)

const MaxUsernameLen = 36

var ErrUserNotFound = errors.New("user not found")

// UserID identifies an account. Negative values are reserved.
type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseUserID parses a decimal user id as carried in token subjects.
func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("negative user id")
	}
	return UserID(v), nil
}

type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}
