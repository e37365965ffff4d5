// Package identity maps platform users to external game identities and
// answers whether a user is verified to play for money.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "lobby:identity"

	ProviderSteam = "steam"
)

var (
	ErrNotLinked     = errors.New("external identity is not linked")
	ErrAlreadyLinked = errors.New("external identity is linked to another user")
	ErrInvalidLink   = errors.New("user, provider and external id are required")
)

// Link is one user to external identity binding.
type Link struct {
	UserID     string `json:"user_id"`
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
}

// Directory is a Redis backed identity directory.
//
// Keys:
//
//	lobby:identity:ext:{provider}:{external_id} -> user id
//	lobby:identity:user:{user_id}              -> hash provider -> external id
//	lobby:identity:verified:{user_id}          -> "1"
type Directory struct {
	client redis.Cmdable
}

func NewDirectory(client redis.Cmdable) *Directory {
	return &Directory{client: client}
}

// Link binds an external identity to userID and marks the user verified.
// Relinking the same pair is a no-op.
func (d *Directory) Link(ctx context.Context, l Link) error {
	l.UserID = strings.TrimSpace(l.UserID)
	l.Provider = strings.ToLower(strings.TrimSpace(l.Provider))
	l.ExternalID = strings.TrimSpace(l.ExternalID)
	if l.UserID == "" || l.Provider == "" || l.ExternalID == "" {
		return ErrInvalidLink
	}

	ok, err := d.client.SetNX(ctx, externalKey(l.Provider, l.ExternalID), l.UserID, 0).Result()
	if err != nil {
		return fmt.Errorf("claim external identity: %w", err)
	}
	if !ok {
		owner, err := d.client.Get(ctx, externalKey(l.Provider, l.ExternalID)).Result()
		if err != nil {
			return fmt.Errorf("read external identity owner: %w", err)
		}
		if owner != l.UserID {
			return ErrAlreadyLinked
		}
	}

	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, userKey(l.UserID), l.Provider, l.ExternalID)
	pipe.Set(ctx, verifiedKey(l.UserID), "1", 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store identity link: %w", err)
	}

	zap.L().Info("identity linked",
		zap.String("user_id", l.UserID),
		zap.String("provider", l.Provider),
		zap.String("external_id", l.ExternalID))
	return nil
}

// SetVerified overrides the verification flag, e.g. after a manual review.
func (d *Directory) SetVerified(ctx context.Context, userID string, verified bool) error {
	key := verifiedKey(userID)
	var err error
	if verified {
		err = d.client.Set(ctx, key, "1", 0).Err()
	} else {
		err = d.client.Del(ctx, key).Err()
	}
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	return nil
}

func (d *Directory) IsVerified(ctx context.Context, userID string) (bool, error) {
	n, err := d.client.Exists(ctx, verifiedKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("check verification: %w", err)
	}
	return n > 0, nil
}

// Resolve returns the user owning an external identity.
func (d *Directory) Resolve(ctx context.Context, provider, externalID string) (string, error) {
	userID, err := d.client.Get(ctx, externalKey(strings.ToLower(provider), externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotLinked
	}
	if err != nil {
		return "", fmt.Errorf("resolve external identity: %w", err)
	}
	return userID, nil
}

// Links lists every external identity bound to userID.
func (d *Directory) Links(ctx context.Context, userID string) ([]Link, error) {
	m, err := d.client.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list identity links: %w", err)
	}
	links := make([]Link, 0, len(m))
	for provider, ext := range m {
		links = append(links, Link{UserID: userID, Provider: provider, ExternalID: ext})
	}
	return links, nil
}

func externalKey(provider, externalID string) string {
	return fmt.Sprintf("%s:ext:%s:%s", keyPrefix, provider, externalID)
}

func userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", keyPrefix, userID)
}

func verifiedKey(userID string) string {
	return fmt.Sprintf("%s:verified:%s", keyPrefix, userID)
}
