package domain

import "errors"

// ErrStateNotFound возвращается хранилищем, если state не выдавался или уже использован
var ErrStateNotFound = errors.New("state not found")
