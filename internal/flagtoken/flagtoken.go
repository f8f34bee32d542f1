// Package flagtoken derives the per-user proof tokens shown to
// participants after a solve. Tokens are an anti-sharing artifact
// only: correctness is decided by answer verification, never by
// comparing submitted tokens.
package flagtoken

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"casefile/internal/crypto"
)

const (
	Prefix = "FORENSIC{"
	Suffix = "}"

	// keyInfo binds the derived key to this purpose; rotating the
	// version string invalidates every issued token.
	keyInfo = "casefile-flag-v1"

	minDisplayLength = 16
	maxDisplayLength = 43 // base64 length of a full SHA-256 digest
)

// Deriver computes deterministic, non-invertible flag tokens. It holds
// a key expanded from the server master secret and is safe for
// concurrent use.
type Deriver struct {
	key        []byte
	displayLen int
}

func NewDeriver(masterSecret []byte, displayLength int) (*Deriver, error) {
	if len(masterSecret) == 0 {
		return nil, fmt.Errorf("master secret is empty")
	}
	if displayLength < minDisplayLength {
		displayLength = minDisplayLength
	}
	if displayLength > maxDisplayLength {
		displayLength = maxDisplayLength
	}

	key, err := crypto.DeriveKey(masterSecret, keyInfo, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive flag key: %w", err)
	}

	return &Deriver{key: key, displayLen: displayLength}, nil
}

// Token returns the flag for a user/challenge pair within the current
// salt epoch. Same inputs always yield the same token, so a solved
// challenge's flag can be re-displayed without storing it; rotating
// the case salt changes every user's token for that case.
func (d *Deriver) Token(userID, challengeID uuid.UUID, caseSalt, truthHash string) string {
	message := strings.Join([]string{
		userID.String(),
		challengeID.String(),
		caseSalt,
		truthHash,
	}, "|")

	digest := crypto.HMACSHA256(d.key, []byte(message))
	encoded := base64.RawURLEncoding.EncodeToString(digest)

	return Prefix + encoded[:d.displayLen] + Suffix
}
