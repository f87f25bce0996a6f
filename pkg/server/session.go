package server

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/raterudder/honorarium/pkg/log"
	"github.com/raterudder/honorarium/pkg/types"
)

var errSessionExpired = errors.New("session expired")

func (s *Server) newGCM(ctx context.Context) (cipher.AEAD, error) {
	if len(s.sessionKey) == 0 {
		log.Ctx(ctx).ErrorContext(ctx, "no session key configured")
		return nil, errors.New("no session key configured")
	}
	if len(s.sessionKey) != 32 {
		log.Ctx(ctx).ErrorContext(ctx, "invalid session key length (must be 32 bytes)", slog.Int("length", len(s.sessionKey)))
		return nil, errors.New("invalid session key length (must be 32 bytes)")
	}

	block, err := aes.NewCipher(s.sessionKey)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create cipher", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create gcm", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

// encodeSession seals admin into an opaque cookie value.
func (s *Server) encodeSession(ctx context.Context, admin types.Admin) (string, error) {
	jsonBytes, err := json.Marshal(admin)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	gcm, err := s.newGCM(ctx)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, jsonBytes, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// decodeSession opens a cookie value produced by encodeSession. Expired
// sessions return errSessionExpired.
func (s *Server) decodeSession(ctx context.Context, value string, now time.Time) (types.Admin, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return types.Admin{}, fmt.Errorf("malformed session: %w", err)
	}

	gcm, err := s.newGCM(ctx)
	if err != nil {
		return types.Admin{}, err
	}

	if len(sealed) < gcm.NonceSize() {
		return types.Admin{}, errors.New("malformed session")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return types.Admin{}, fmt.Errorf("failed to decrypt session: %w", err)
	}

	var admin types.Admin
	if err := json.Unmarshal(plaintext, &admin); err != nil {
		return types.Admin{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if !now.Before(admin.Expires) {
		return types.Admin{}, errSessionExpired
	}
	return admin, nil
}
