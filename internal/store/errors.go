package store

import "errors"

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrTopicNotFound = errors.New("topic not found")
	ErrNameTaken     = errors.New("user name already taken")
	ErrSelfFollow    = errors.New("users cannot follow themselves")
)
