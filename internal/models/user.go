package models

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTClaims represents custom JWT claims issued by the EHR auth service.
// This service only parses tokens; it never issues them.
type JWTClaims struct {
	UserID      uuid.UUID `json:"user_id"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	jwt.RegisteredClaims
}

// UserContext is the acting user resolved from a bearer token.
type UserContext struct {
	UserID      uuid.UUID
	Role        string
	Permissions []string
}
