package service

import "errors"

// Sentinel errors the HTTP layer maps onto status codes.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)
