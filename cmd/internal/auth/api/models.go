package authapi

import "bandroom/cmd/internal/auth/session"

type registerRequest struct {
	Email        string  `json:"email"`
	Password     string  `json:"password"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	ProfileImage *string `json:"profileImage,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// authResponse is shared by register and login.
type authResponse struct {
	User         session.PublicUser `json:"user"`
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
}

// refreshResponse carries only the reissued access token. The refresh token
// the client already holds stays valid.
type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type meResponse struct {
	User session.PublicUser `json:"user"`
}
