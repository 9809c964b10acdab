package models

import (
	"errors"
	"fmt"
)

// Store-level sentinel errors
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("resource already exists")
	ErrBadRequest = errors.New("bad request")
)

// ErrorKind is the closed set of failures the auth core reports to the boundary.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindUserExists
	KindUsernameTaken
	KindInvalidCredentials
	KindAccountDisabled
	KindInvalidToken
	KindWrongTokenType
	KindInvalidRefreshToken
	KindEmailRequiredFromProvider
	KindOAuthExchangeFailed
	KindOAuthProfileFetchFailed
	KindOAuthProviderDenied
	KindOAuthCodeMissing
	KindOAuthStateMismatch
	KindInvalidVerificationToken
	KindUsernameGenerationExhausted
)

var kindNames = map[ErrorKind]string{
	KindInternal:                    "internal error",
	KindUserExists:                  "user already exists",
	KindUsernameTaken:               "username is already taken",
	KindInvalidCredentials:          "invalid credentials",
	KindAccountDisabled:             "account is disabled",
	KindInvalidToken:                "invalid or expired token",
	KindWrongTokenType:              "invalid token type",
	KindInvalidRefreshToken:         "invalid refresh token",
	KindEmailRequiredFromProvider:   "email is required from oauth provider",
	KindOAuthExchangeFailed:         "oauth code exchange failed",
	KindOAuthProfileFetchFailed:     "oauth profile fetch failed",
	KindOAuthProviderDenied:         "oauth provider reported an error",
	KindOAuthCodeMissing:            "authorization code is required",
	KindOAuthStateMismatch:          "oauth state is invalid or expired",
	KindInvalidVerificationToken:    "invalid verification token",
	KindUsernameGenerationExhausted: "could not generate a unique username",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// AuthError is a classified failure. Detail carries diagnostics (e.g. the
// provider's error description) that must not reach end users in production.
type AuthError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any AuthError of the same kind, so errors.Is(err, ErrUserExists)
// holds for detailed copies as well.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// WithDetail returns a copy of e carrying detail.
func (e *AuthError) WithDetail(detail string) *AuthError {
	return &AuthError{Kind: e.Kind, Detail: detail, Err: e.Err}
}

// Wrap returns a copy of e wrapping cause.
func (e *AuthError) Wrap(cause error) *AuthError {
	return &AuthError{Kind: e.Kind, Detail: e.Detail, Err: cause}
}

// Sentinel auth errors, one per kind
var (
	ErrInternal                    = &AuthError{Kind: KindInternal}
	ErrUserExists                  = &AuthError{Kind: KindUserExists}
	ErrUsernameTaken               = &AuthError{Kind: KindUsernameTaken}
	ErrInvalidCredentials          = &AuthError{Kind: KindInvalidCredentials}
	ErrAccountDisabled             = &AuthError{Kind: KindAccountDisabled}
	ErrInvalidToken                = &AuthError{Kind: KindInvalidToken}
	ErrWrongTokenType              = &AuthError{Kind: KindWrongTokenType}
	ErrInvalidRefreshToken         = &AuthError{Kind: KindInvalidRefreshToken}
	ErrEmailRequiredFromProvider   = &AuthError{Kind: KindEmailRequiredFromProvider}
	ErrOAuthExchangeFailed         = &AuthError{Kind: KindOAuthExchangeFailed}
	ErrOAuthProfileFetchFailed     = &AuthError{Kind: KindOAuthProfileFetchFailed}
	ErrOAuthProviderDenied         = &AuthError{Kind: KindOAuthProviderDenied}
	ErrOAuthCodeMissing            = &AuthError{Kind: KindOAuthCodeMissing}
	ErrOAuthStateMismatch          = &AuthError{Kind: KindOAuthStateMismatch}
	ErrInvalidVerificationToken    = &AuthError{Kind: KindInvalidVerificationToken}
	ErrUsernameGenerationExhausted = &AuthError{Kind: KindUsernameGenerationExhausted}
)

// KindOf classifies err. Anything that is not an AuthError is internal.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// DetailOf returns the diagnostic detail attached to err, if any.
func DetailOf(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Detail
	}
	return ""
}

// ConflictError reports which unique field a store write collided on.
type ConflictError struct {
	Field      string // "email", "username", "auth_provider", "device"
	Constraint string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict.Error(), e.Field)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
