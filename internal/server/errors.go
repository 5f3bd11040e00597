package server

import "errors"

// ErrAlreadyRun is returned when Run is called more than once.
var ErrAlreadyRun = errors.New("server: already run")
