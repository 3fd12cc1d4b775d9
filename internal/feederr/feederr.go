package feederr

import (
	"fmt"
)

var (
	ErrNotInitialized       = fmt.Errorf("feederr: store not initialized")
	ErrChannelNotFound      = fmt.Errorf("feederr: channel not found")
	ErrChannelAlreadyExists = fmt.Errorf("feederr: channel already exists")
	ErrVideoNotFound        = fmt.Errorf("feederr: video not found")
	ErrPlaylistNotFound     = fmt.Errorf("feederr: playlist not found")
	ErrConstraintViolation  = fmt.Errorf("feederr: constraint violation")
	ErrInvalidInput         = fmt.Errorf("feederr: invalid input")
)
