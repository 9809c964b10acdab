package models

import (
	"time"
)

type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
	StatusBusy    = "busy"
)

const (
	DeviceTypeIOS     = "ios"
	DeviceTypeAndroid = "android"
	DeviceTypeWeb     = "web"
)

type User struct {
	ID            string
	Email         string
	Username      *string // NULL never collides with other users
	DisplayName   string
	PasswordHash  string // only populated by GetByEmailWithPassword
	AvatarURL     string
	PhoneNumber   string
	Bio           string
	IsActive      bool
	IsVerified    bool
	Status        string
	LastSeen      *time.Time
	AuthProviders []AuthProvider
	Devices       []Device
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuthProvider links an external OAuth identity to the user.
type AuthProvider struct {
	Provider      Provider
	ProviderID    string
	ProviderEmail string
	AccessToken   string
	RefreshToken  string
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Device struct {
	DeviceToken string
	DeviceType  string
	DeviceName  string
	IsActive    bool
	LastUsedAt  time.Time
	CreatedAt   time.Time
}

// FindAuthProvider returns the linked entry for (provider, providerID) or nil.
func (u *User) FindAuthProvider(provider Provider, providerID string) *AuthProvider {
	for i := range u.AuthProviders {
		if u.AuthProviders[i].Provider == provider && u.AuthProviders[i].ProviderID == providerID {
			return &u.AuthProviders[i]
		}
	}
	return nil
}

// UpsertAuthProvider refreshes the matching entry in place or appends a new one.
// Returns true when a new link was appended.
func (u *User) UpsertAuthProvider(entry AuthProvider, now time.Time) bool {
	if existing := u.FindAuthProvider(entry.Provider, entry.ProviderID); existing != nil {
		existing.ProviderEmail = entry.ProviderEmail
		existing.AccessToken = entry.AccessToken
		existing.RefreshToken = entry.RefreshToken
		existing.ExpiresAt = entry.ExpiresAt
		existing.UpdatedAt = now
		return false
	}

	entry.CreatedAt = now
	entry.UpdatedAt = now
	u.AuthProviders = append(u.AuthProviders, entry)
	return true
}

// AddDevice registers a device, replacing any entry with the same token.
func (u *User) AddDevice(device Device, now time.Time) {
	if device.DeviceType == "" {
		device.DeviceType = DeviceTypeWeb
	}
	device.IsActive = true
	device.LastUsedAt = now

	for i := range u.Devices {
		if u.Devices[i].DeviceToken == device.DeviceToken {
			device.CreatedAt = u.Devices[i].CreatedAt
			u.Devices[i] = device
			return
		}
	}

	device.CreatedAt = now
	u.Devices = append(u.Devices, device)
}

// RemoveDevice drops the device with the given token. Unknown tokens are a no-op.
func (u *User) RemoveDevice(deviceToken string) bool {
	for i := range u.Devices {
		if u.Devices[i].DeviceToken == deviceToken {
			u.Devices = append(u.Devices[:i], u.Devices[i+1:]...)
			return true
		}
	}
	return false
}

// MarkSeen records a successful authentication.
func (u *User) MarkSeen(now time.Time) {
	u.LastSeen = &now
	u.Status = StatusOnline
}

// PublicUser is the outward view of a user: no password hash, no devices and
// no provider tokens.
type PublicUser struct {
	ID              string           `json:"id"`
	Email           string           `json:"email"`
	Username        *string          `json:"username,omitempty"`
	DisplayName     string           `json:"display_name"`
	AvatarURL       string           `json:"avatar_url,omitempty"`
	PhoneNumber     string           `json:"phone_number,omitempty"`
	Bio             string           `json:"bio,omitempty"`
	IsActive        bool             `json:"is_active"`
	IsVerified      bool             `json:"is_verified"`
	Status          string           `json:"status"`
	LastSeen        *time.Time       `json:"last_seen,omitempty"`
	LinkedProviders []LinkedProvider `json:"linked_providers"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type LinkedProvider struct {
	Provider      Provider  `json:"provider"`
	ProviderEmail string    `json:"provider_email,omitempty"`
	LinkedAt      time.Time `json:"linked_at"`
}

func (u *User) Public() *PublicUser {
	linked := make([]LinkedProvider, 0, len(u.AuthProviders))
	for _, p := range u.AuthProviders {
		linked = append(linked, LinkedProvider{
			Provider:      p.Provider,
			ProviderEmail: p.ProviderEmail,
			LinkedAt:      p.CreatedAt,
		})
	}

	return &PublicUser{
		ID:              u.ID,
		Email:           u.Email,
		Username:        u.Username,
		DisplayName:     u.DisplayName,
		AvatarURL:       u.AvatarURL,
		PhoneNumber:     u.PhoneNumber,
		Bio:             u.Bio,
		IsActive:        u.IsActive,
		IsVerified:      u.IsVerified,
		Status:          u.Status,
		LastSeen:        u.LastSeen,
		LinkedProviders: linked,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}
