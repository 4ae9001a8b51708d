package game

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists sessions as JSON values keyed by game id, with a per-user
// index set for pair lookups. Keys carry no TTL: sessions are the one state
// that survives restarts.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for game store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	if err := s.Save(ctx, sess); err != nil {
		return err
	}
	return s.indexPlayers(ctx, sess.ID, sess.PlayerWhite, sess.PlayerBlack)
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, gameKey(sess.ID), raw, 0).Err()
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) FindOnGoingByPair(ctx context.Context, userA, userB string) (*Session, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, nil
	}
	ids, err := s.rdb.SMembers(ctx, idxUserKey(userA)).Result()
	if err != nil {
		return nil, err
	}
	var matches []*Session
	for _, id := range ids {
		sess, lerr := s.Load(ctx, id)
		if lerr != nil || sess == nil {
			continue
		}
		if sess.Status != StatusOnGoing {
			continue
		}
		samePair := (sess.PlayerWhite == userA && sess.PlayerBlack == userB) ||
			(sess.PlayerWhite == userB && sess.PlayerBlack == userA)
		if samePair {
			matches = append(matches, sess)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].UpdatedAt.After(matches[j].UpdatedAt) })
	return matches[0], nil
}

func (s *RedisStore) indexPlayers(ctx context.Context, id, white, black string) error {
	for _, uid := range []string{white, black} {
		if strings.TrimSpace(uid) == "" {
			continue
		}
		if err := s.rdb.SAdd(ctx, idxUserKey(uid), id).Err(); err != nil {
			return err
		}
	}
	return nil
}

func gameKey(id string) string { return "arena:game:" + strings.TrimSpace(id) }

func idxUserKey(userID string) string { return "arena:index:user:" + strings.TrimSpace(userID) }

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
