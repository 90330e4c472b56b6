package dto

// RefreshRequest exchanges a refresh token for a new token pair
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RevokeResponse reports a revoked access token
type RevokeResponse struct {
	TokenID string `json:"token_id"`
	Revoked bool   `json:"revoked"`
}
