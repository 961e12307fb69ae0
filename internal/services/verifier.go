// Token verification for the WebSocket handshake.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/dermassist/telederm-backend/internal/domain"
	"github.com/dermassist/telederm-backend/internal/repo"
)

// ErrInvalidToken is returned when a handshake token cannot be resolved.
var ErrInvalidToken = errors.New("invalid token")

// UserVerifier resolves handshake tokens against the users table. The demo
// deployment uses the user id itself as the token, mirroring the X-User-ID
// header on the REST side; a real deployment swaps this for a session or JWT
// verifier behind the same interface.
type UserVerifier struct {
	DB *gorm.DB
}

// Verify resolves token to a user identity.
func (v *UserVerifier) Verify(ctx context.Context, token string) (string, domain.Role, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", ErrInvalidToken
	}
	u, err := repo.GetUser(ctx, v.DB, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", "", ErrInvalidToken
		}
		return "", "", err
	}
	return u.ID, u.Role, nil
}
