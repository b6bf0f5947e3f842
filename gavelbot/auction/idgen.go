package auction

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/gavelbot/gavel/gavelbot/database/repositories"
)

const (
	idLength     = 4
	idGenRetries = 5
)

// IDGenerator produces short opaque auction codes, checked against the store
// for uniqueness.
type IDGenerator struct {
	repo repositories.AuctionRepository
}

func NewIDGenerator(repo repositories.AuctionRepository) *IDGenerator {
	return &IDGenerator{repo: repo}
}

func (g *IDGenerator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < idGenRetries; i++ {
		// 3 random bytes, base32-encoded, 5 bits per character.
		bytes := make([]byte, 3)
		if _, err := rand.Read(bytes); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}

		id := strings.ToUpper(base32.StdEncoding.EncodeToString(bytes)[:idLength])

		exists, err := g.repo.AuctionIDExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to check auction ID: %w", err)
		}
		if !exists {
			return id, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique auction ID after %d attempts", idGenRetries)
}
