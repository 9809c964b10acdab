package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/panda-auth/internal/auth"
	"github.com/BradenHooton/panda-auth/internal/models"
	"github.com/BradenHooton/panda-auth/internal/services"
	pkghttp "github.com/BradenHooton/panda-auth/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.AuthResponse, error)
	Login(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	Logout(ctx context.Context, userID, deviceToken string)
	Me(ctx context.Context, userID string) (*models.PublicUser, error)
}

// EmailVerificationServiceInterface defines the interface for email verification
type EmailVerificationServiceInterface interface {
	VerifyEmail(ctx context.Context, plainToken string) (string, error)
	ResendVerification(ctx context.Context, email string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service                  AuthServiceInterface
	emailVerificationService EmailVerificationServiceInterface
	cookies                  auth.CookieConfig
	ipConfig                 *pkghttp.IPConfig
	errors                   errorWriter
}

// NewAuthHandler creates a new AuthHandler. emailVerificationService may be
// nil, in which case the verification endpoints report an internal error.
func NewAuthHandler(
	service AuthServiceInterface,
	emailVerificationService EmailVerificationServiceInterface,
	cookies auth.CookieConfig,
	ipConfig *pkghttp.IPConfig,
	env string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		service:                  service,
		emailVerificationService: emailVerificationService,
		cookies:                  cookies,
		ipConfig:                 ipConfig,
		errors:                   errorWriter{env: env, logger: logger},
	}
}

// Request DTOs

// DeviceFields is the optional device registration embedded in register and login
type DeviceFields struct {
	DeviceToken string `json:"device_token" validate:"omitempty,max=512"`
	DeviceType  string `json:"device_type" validate:"omitempty,oneof=ios android web"`
	DeviceName  string `json:"device_name" validate:"omitempty,max=100"`
}

func (d DeviceFields) device() *models.Device {
	if strings.TrimSpace(d.DeviceToken) == "" {
		return nil
	}
	return &models.Device{
		DeviceToken: strings.TrimSpace(d.DeviceToken),
		DeviceType:  d.DeviceType,
		DeviceName:  strings.TrimSpace(d.DeviceName),
	}
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,strongpassword"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=100"`
	Username    string `json:"username" validate:"omitempty,max=50,username"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,max=32"`
	Bio         string `json:"bio" validate:"omitempty,max=500"`
	DeviceFields
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	DeviceFields
}

// RefreshTokenRequest represents the request body for token refresh. The
// token may also arrive in the refresh_token cookie.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest represents the optional body for logout
type LogoutRequest struct {
	DeviceToken string `json:"device_token"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// ResendVerificationRequest represents the request body for resending verification email
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// UserResponse wraps the authenticated user's public profile
type UserResponse struct {
	User *models.PublicUser `json:"user"`
}

func (h *AuthHandler) clientInfo(r *http.Request) services.ClientInfo {
	return services.ClientInfo{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// decodeAndValidate reports false after writing a 400 response
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// Register handles user registration
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Username:    req.Username,
		PhoneNumber: req.PhoneNumber,
		Bio:         req.Bio,
		Device:      req.device(),
		Client:      h.clientInfo(r),
	})
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	auth.SetAuthCookies(w, resp.Tokens, h.cookies)
	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), services.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   req.device(),
		Client:   h.clientInfo(r),
	})
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	auth.SetAuthCookies(w, resp.Tokens, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// RefreshToken handles token refresh
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest false "Refresh token request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if r.ContentLength != 0 {
		// an empty or malformed body falls back to the cookie
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token = auth.TokenFromCookie(r, auth.RefreshTokenCookie)
	}

	resp, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	auth.SetAuthCookies(w, resp.Tokens, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Logout removes the caller's device and clears the auth cookies
// @Summary User logout
// @Accept json
// @Security BearerAuth
// @Produce json
// @Success 200 {object} pkghttp.MessageResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req LogoutRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	h.service.Logout(r.Context(), claims.UserID, strings.TrimSpace(req.DeviceToken))

	auth.ClearAuthCookies(w, h.cookies)
	pkghttp.WriteMessage(w, http.StatusOK, "Logged out successfully")
}

// Me returns the authenticated user
// @Summary Current user
// @Security BearerAuth
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.service.Me(r.Context(), claims.UserID)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, UserResponse{User: user})
}

// VerifyEmail handles email verification with a token
// @Summary Verify email address
// @Accept json
// @Param request body VerifyEmailRequest true "Verify email request"
// @Produce json
// @Success 200 {object} pkghttp.MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if h.emailVerificationService == nil {
		pkghttp.WriteInternalError(w, "Email verification is not enabled")
		return
	}

	var req VerifyEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.emailVerificationService.VerifyEmail(r.Context(), req.Token); err != nil {
		h.errors.write(w, r, err)
		return
	}

	pkghttp.WriteMessage(w, http.StatusOK, "Email verified successfully")
}

// ResendVerification handles resending of verification email
// @Summary Resend verification email
// @Accept json
// @Param request body ResendVerificationRequest true "Resend verification request"
// @Produce json
// @Success 202 {object} pkghttp.MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	if h.emailVerificationService == nil {
		pkghttp.WriteInternalError(w, "Email verification is not enabled")
		return
	}

	var req ResendVerificationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	// Always 202 so the response does not reveal which emails are registered
	_ = h.emailVerificationService.ResendVerification(r.Context(), req.Email)

	pkghttp.WriteMessage(w, http.StatusAccepted, "If an account exists with this email, a verification email will be sent.")
}
