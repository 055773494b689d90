// ABOUTME: JWT device token minting for approved pairings
// ABOUTME: Uses HS256 signing with the gateway's configured secret

package pairing

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTMinter implements TokenMinter using HS256 signed JWTs. The token's
// subject is the node ID; the jti claim makes every mint distinct so a
// re-approval invalidates the previous token by comparison.
type JWTMinter struct {
	secret []byte
}

// NewJWTMinter creates a minter with the given secret.
func NewJWTMinter(secret []byte) *JWTMinter {
	return &JWTMinter{secret: secret}
}

// Mint creates a device token for the given node ID. Device tokens do not
// expire; revocation happens by deleting the pairing record.
func (m *JWTMinter) Mint(nodeID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": nodeID,
		"iat": now.Unix(),
		"jti": uuid.New().String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}
