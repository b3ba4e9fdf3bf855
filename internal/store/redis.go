package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/marsdevs/chess-arena/internal/domain"
)

// Redis is the live system of record. Documents are stored as JSON under
// typed keys; per-user sets index invites for listing.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(redisURL string) (*Redis, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func (s *Redis) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func matchKey(id string) string  { return "match:" + strings.TrimSpace(id) }
func inviteKey(id string) string { return "invite:" + strings.TrimSpace(id) }
func pendingKey(from, to string) string {
	return "invite:pending:" + strings.TrimSpace(from) + ":" + strings.TrimSpace(to)
}
func idxInviteUserKey(userID string) string {
	return "invite:index:user:" + strings.TrimSpace(userID)
}
func claimKey(inviteID string) string {
	return "invite:claim:" + strings.TrimSpace(inviteID)
}

func (s *Redis) SaveMatch(ctx context.Context, m *domain.Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, matchKey(m.ID), raw, 0).Err()
}

func (s *Redis) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	raw, err := s.rdb.Get(ctx, matchKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m domain.Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Redis) SaveInvite(ctx context.Context, inv *domain.Invite) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, inviteKey(inv.ID), raw, 0)
	pipe.SAdd(ctx, idxInviteUserKey(inv.FromPlayer), inv.ID)
	pipe.SAdd(ctx, idxInviteUserKey(inv.ToPlayer), inv.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Redis) GetInvite(ctx context.Context, id string) (*domain.Invite, error) {
	raw, err := s.rdb.Get(ctx, inviteKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var inv domain.Invite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Redis) TryMarkPending(ctx context.Context, from, to, inviteID string) (bool, error) {
	return s.rdb.SetNX(ctx, pendingKey(from, to), inviteID, 0).Result()
}

func (s *Redis) ClearPending(ctx context.Context, from, to string) error {
	return s.rdb.Del(ctx, pendingKey(from, to)).Err()
}

func (s *Redis) TryClaimInvite(ctx context.Context, inviteID string) (bool, error) {
	return s.rdb.SetNX(ctx, claimKey(inviteID), "1", 0).Result()
}

func (s *Redis) ListInvitesForUser(ctx context.Context, userID string) ([]*domain.Invite, error) {
	ids, err := s.rdb.SMembers(ctx, idxInviteUserKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	list := make([]*domain.Invite, 0, len(ids))
	for _, id := range ids {
		inv, gerr := s.GetInvite(ctx, id)
		if gerr != nil {
			continue
		}
		list = append(list, inv)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
