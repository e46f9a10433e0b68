package invite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// Invitation is stored as JSON under inv:<email>:<game_id>.
type Invitation struct {
	GameID      string    `json:"game_id"`
	Invitee     string    `json:"invitee"`
	SenderEmail string    `json:"sender_email"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps pending invitations in Redis, indexed by invitee e-mail, so an
// invitee who logs in later still finds their open invites. Entries expire
// after the TTL; nothing here outlives a stale session.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) keyInvite(email, gameID string) string {
	return "inv:" + strings.ToLower(strings.TrimSpace(email)) + ":" + strings.TrimSpace(gameID)
}

func (s *Store) keyIndex(email string) string {
	return "inv:index:" + strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) Record(ctx context.Context, inv Invitation) error {
	raw, err := json.Marshal(&inv)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keyInvite(inv.Invitee, inv.GameID), raw, s.ttl).Err(); err != nil {
		return err
	}
	idx := s.keyIndex(inv.Invitee)
	if err := s.rdb.SAdd(ctx, idx, inv.GameID).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, idx, s.ttl).Err()
}

// PendingFor lists the open invitations for an invitee, skipping any whose
// entry has already expired.
func (s *Store) PendingFor(ctx context.Context, email string) ([]Invitation, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyIndex(email)).Result()
	if err != nil {
		return nil, err
	}
	var out []Invitation
	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, s.keyInvite(email, id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var inv Invitation
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// Clear removes a consumed invitation.
func (s *Store) Clear(ctx context.Context, email, gameID string) error {
	if err := s.rdb.Del(ctx, s.keyInvite(email, gameID)).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, s.keyIndex(email), gameID).Err()
}
