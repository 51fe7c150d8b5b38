package auth

import "errors"

// Token and directory errors. ErrExpiredToken and ErrInvalidSignature both
// collapse to "invalid" at the request filter; callers must not surface the
// distinction to clients.
var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrExpiredToken      = errors.New("token expired")
	ErrInvalidSignature  = errors.New("invalid token signature")
	ErrPrincipalNotFound = errors.New("principal not found")
)
