package application

import (
	"strings"

	"aawallet/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// ResolveIdentity turns a login claim into the identity a session is keyed
// by. The email is used as delivered; normalizing it would move the account.
func ResolveIdentity(claim domain.IdentityClaim) (domain.Identity, error) {
	if strings.TrimSpace(claim.Email) == "" {
		return domain.Identity{}, validationError("resolve identity", "User email is required")
	}
	return domain.Identity{Email: claim.Email}, nil
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// ClaimFromIDToken reads the profile claims of an OIDC ID token. The token
// was already verified by the login flow that produced it, so the signature
// is not checked again here.
func ClaimFromIDToken(raw string) (domain.IdentityClaim, error) {
	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), &claims); err != nil {
		return domain.IdentityClaim{}, newWalletError(KindValidation, "parse id token", err)
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return domain.IdentityClaim{}, validationError("parse id token", "email is not verified")
	}
	return domain.IdentityClaim{Email: claims.Email, Name: claims.Name, Picture: claims.Picture}, nil
}
