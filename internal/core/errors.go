package core

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomEmpty          = errors.New("room is empty")
	ErrRoomNotEmpty       = errors.New("room is not empty")
	ErrRoomReleased       = errors.New("room is released")
	ErrRoomNotReleasing   = errors.New("room is not releasing")
	ErrUserAlreadyHosting = errors.New("user already hosting")
	ErrUserNotInRoom      = errors.New("user not in room")
	ErrUserAlreadyInRoom  = errors.New("user already in room")
	ErrInternal           = errors.New("internal error")
)

// DeliveryError reports a broadcast that reached only part of the room.
// Deliveries that succeeded are not rolled back.
type DeliveryError struct {
	Lost  int
	Total int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("internal error: lost %d/%d deliveries", e.Lost, e.Total)
}

func (e *DeliveryError) Unwrap() error { return ErrInternal }
