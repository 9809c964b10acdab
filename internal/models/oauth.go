package models

import "time"

// OAuthState is the server-side record behind the state parameter sent to a
// provider. ClientState is the opaque value the frontend asked us to echo.
type OAuthState struct {
	Provider    Provider  `json:"provider"`
	ClientState string    `json:"client_state,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
