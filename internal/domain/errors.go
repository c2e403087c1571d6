package domain

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrStorage        = errors.New("storage error")
	ErrQuery          = errors.New("nearby query failed")
	ErrProvider       = errors.New("provider error")
	ErrNotFound       = errors.New("not found")
)
