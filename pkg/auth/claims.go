package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/creditsync/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	OperatorID string
	Role       enums.OperatorRole
	JTI        string
}

// AccessTokenClaims represents the typed JWT presented by operators.
type AccessTokenClaims struct {
	Role enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}

// OperatorID is the token subject.
func (c *AccessTokenClaims) OperatorID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}
