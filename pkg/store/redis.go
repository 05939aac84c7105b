package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gnomegg/chatd/pkg/model"
)

const (
	muteKeyPrefix = "chat:mute:"
	banKeyPrefix  = "chat:ban:"
)

func muteKey(username string) string { return muteKeyPrefix + username }
func banKey(username string) string  { return banKeyPrefix + username }

// Redis implements ModerationRepository on top of a Redis server. Timed
// entries carry a TTL matching their remaining duration so Redis expires
// them on its own; permanent entries have no TTL.
type Redis struct {
	client redis.Cmdable
}

var _ ModerationRepository = (*Redis)(nil)

// NewRedis wraps an existing Redis client.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// Close is a no-op; the wrapped client is owned by the caller.
func (r *Redis) Close() error {
	return nil
}

type muteRecord struct {
	Subject  string    `json:"subject"`
	IssuedAt time.Time `json:"issuedAt"`
	Duration int64     `json:"duration"`
}

type banRecord struct {
	Subject  string    `json:"subject"`
	Reason   string    `json:"reason"`
	IssuedAt time.Time `json:"issuedAt"`
	Duration int64     `json:"duration"`
	IP       string    `json:"ip,omitempty"`
}

// remaining returns the TTL to set for an entry, or 0 for no TTL. Entries
// already expired get a negative TTL so callers can skip the write.
func remaining(issuedAt time.Time, duration time.Duration) time.Duration {
	if duration == 0 {
		return 0
	}
	return time.Until(issuedAt.Add(duration))
}

// SaveMute inserts or replaces the mute for its subject.
func (r *Redis) SaveMute(ctx context.Context, m model.Mute) error {
	ttl := remaining(m.IssuedAt, m.Duration)
	if m.Duration != 0 && ttl <= 0 {
		return r.DeleteMute(ctx, m.Subject)
	}
	data, err := json.Marshal(muteRecord{
		Subject:  m.Subject,
		IssuedAt: m.IssuedAt,
		Duration: int64(m.Duration),
	})
	if err != nil {
		return fmt.Errorf("store: save mute: %w", err)
	}
	if err := r.client.Set(ctx, muteKey(m.Subject), data, ttl).Err(); err != nil {
		return fmt.Errorf("store: save mute: %w", err)
	}
	return nil
}

// DeleteMute removes the mute for the given username.
func (r *Redis) DeleteMute(ctx context.Context, username string) error {
	if err := r.client.Del(ctx, muteKey(username)).Err(); err != nil {
		return fmt.Errorf("store: delete mute: %w", err)
	}
	return nil
}

// SaveBan inserts or replaces the ban for its subject.
func (r *Redis) SaveBan(ctx context.Context, b model.Ban) error {
	ttl := remaining(b.IssuedAt, b.Duration)
	if b.Duration != 0 && ttl <= 0 {
		return r.DeleteBan(ctx, b.Subject)
	}
	data, err := json.Marshal(banRecord{
		Subject:  b.Subject,
		Reason:   b.Reason,
		IssuedAt: b.IssuedAt,
		Duration: int64(b.Duration),
		IP:       b.IP,
	})
	if err != nil {
		return fmt.Errorf("store: save ban: %w", err)
	}
	if err := r.client.Set(ctx, banKey(b.Subject), data, ttl).Err(); err != nil {
		return fmt.Errorf("store: save ban: %w", err)
	}
	return nil
}

// DeleteBan removes the ban for the given username.
func (r *Redis) DeleteBan(ctx context.Context, username string) error {
	if err := r.client.Del(ctx, banKey(username)).Err(); err != nil {
		return fmt.Errorf("store: delete ban: %w", err)
	}
	return nil
}

// ActiveMutes returns every mute still active at the given instant.
func (r *Redis) ActiveMutes(ctx context.Context, now time.Time) ([]model.Mute, error) {
	var mutes []model.Mute
	err := r.scan(ctx, muteKeyPrefix, func(data []byte) error {
		var rec muteRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		m := model.Mute{
			Subject:  rec.Subject,
			IssuedAt: rec.IssuedAt,
			Duration: time.Duration(rec.Duration),
		}
		if m.Active(now) {
			mutes = append(mutes, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list mutes: %w", err)
	}
	return mutes, nil
}

// ActiveBans returns every ban still active at the given instant.
func (r *Redis) ActiveBans(ctx context.Context, now time.Time) ([]model.Ban, error) {
	var bans []model.Ban
	err := r.scan(ctx, banKeyPrefix, func(data []byte) error {
		var rec banRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		b := model.Ban{
			Subject:  rec.Subject,
			Reason:   rec.Reason,
			IssuedAt: rec.IssuedAt,
			Duration: time.Duration(rec.Duration),
			IP:       rec.IP,
		}
		if b.Active(now) {
			bans = append(bans, b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list bans: %w", err)
	}
	return bans, nil
}

// scan walks every key under prefix and feeds each value to fn. Keys that
// expire between SCAN and GET are skipped.
func (r *Redis) scan(ctx context.Context, prefix string, fn func([]byte) error) error {
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		data, err := r.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return iter.Err()
}
