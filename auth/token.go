package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"time"
)

// jwtKey is the secret used to sign service tokens.
// Binaries replace it at startup from their environment; the default only
// serves local development and tests.
var jwtKey = []byte("call-lab_dev_signing_key_2026")

// SetSigningKey replaces the signing secret. Call once at startup, before
// any token is minted or validated.
func SetSigningKey(secret string) {
	jwtKey = []byte(secret)
}

// ServiceClaims defines the structure of the data stored inside the JWT.
// Service-to-service calls carry the calling service identity, no user.
type ServiceClaims struct {
	ServiceID string `json:"service_id"`
	jwt.RegisteredClaims
}

// GenerateServiceToken creates a signed JWT identifying a calling service.
func GenerateServiceToken(serviceID string, tokenDuration time.Duration) (string, error) {
	expirationTime := time.Now().Add(tokenDuration)

	claims := &ServiceClaims{
		ServiceID: serviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "call-lab",
		},
	}

	// Create the token using the HS256 algorithm (HMAC with SHA256).
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	// Sign the token with the shared secret.
	return token.SignedString(jwtKey)
}

// ValidateServiceToken parses and validates the signature and expiration
// of a JWT string.
func ValidateServiceToken(tokenString string) (*ServiceClaims, error) {
	// Parse the token with the custom claims structure.
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Provide the secret key for validation.
		return jwtKey, nil
	})

	if err != nil {
		return nil, err
	}

	// Verify if the token is valid and extract the claims.
	if claims, ok := token.Claims.(*ServiceClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}
