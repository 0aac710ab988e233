package model

// SessionIdentity is the cached snapshot of the authenticated principal. It is
// present exactly when a credential is present.
type SessionIdentity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// TokenResponse is the login endpoint's success payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AuthResult is returned by login and register instead of an error. Failures
// carry a human-readable message for the presentation layer.
type AuthResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RegistrationData is the register endpoint's request payload.
type RegistrationData struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}
