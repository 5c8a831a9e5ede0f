package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
)

// RegisterRequest is the sign-up payload. Handle and display name are optional;
// the handle falls back to the email local part.
type RegisterRequest struct {
	Email       string  `json:"email" validate:"required,email"`
	Password    string  `json:"password" validate:"required"`
	Handle      *string `json:"handle,omitempty" validate:"omitempty,max=40"`
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=80"`
}

// LoginRequest captures the user credentials sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse contains the token pair and the caller's profile.
type LoginResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	Profile      *models.Profile `json:"profile"`
}

// RegisterResponse is returned after a successful sign-up.
type RegisterResponse struct {
	AccountID uuid.UUID       `json:"account_id"`
	Email     string          `json:"email"`
	Profile   *models.Profile `json:"profile"`
}
