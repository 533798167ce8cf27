package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// PresenceStatus represents a user's online status
type PresenceStatus struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceStore tracks connections, online state, typing and the
// conversation each user is currently viewing.
type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
}

const (
	presenceKeyPrefix    = "presence:"
	presenceHeartbeatKey = "presence:heartbeat"
	connectionsKeyPrefix = "connections:"
	typingKeyPrefix      = "typing:"
	viewingKeyPrefix     = "viewing:"

	// TypingWindow is how long a typing indicator lives without renewal.
	TypingWindow = 3 * time.Second
)

func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceStore{client: client, ttl: ttl}
}

// Connect records a socket for userID. first is true when this is the
// user's only live connection, meaning they just came online.
func (p *PresenceStore) Connect(ctx context.Context, userID, clientID string) (first bool, err error) {
	key := connectionsKeyPrefix + userID
	data, _ := json.Marshal(map[string]string{
		"client_id":    clientID,
		"connected_at": time.Now().UTC().Format(time.RFC3339),
	})

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, clientID, data)
	pipe.Expire(ctx, key, p.ttl)
	count := pipe.HLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if err := p.SetOnline(ctx, userID); err != nil {
		return false, err
	}
	return count.Val() == 1, nil
}

// Disconnect removes a socket. last is true when no connections remain, in
// which case the user is marked offline and lastSeen is returned.
func (p *PresenceStore) Disconnect(ctx context.Context, userID, clientID string) (last bool, lastSeen time.Time, err error) {
	key := connectionsKeyPrefix + userID

	pipe := p.client.TxPipeline()
	pipe.HDel(ctx, key, clientID)
	count := pipe.HLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, time.Time{}, err
	}
	if count.Val() > 0 {
		return false, time.Time{}, nil
	}

	lastSeen, err = p.SetOffline(ctx, userID)
	return true, lastSeen, err
}

// SetOnline marks a user as online
func (p *PresenceStore) SetOnline(ctx context.Context, userID string) error {
	now := time.Now()
	data, _ := json.Marshal(PresenceStatus{UserID: userID, IsOnline: true, LastSeen: now})

	pipe := p.client.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+userID, data, p.ttl)
	pipe.ZAdd(ctx, presenceHeartbeatKey, goredis.Z{Score: float64(now.Unix()), Member: userID})
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline marks a user as offline and returns the recorded last-seen time.
func (p *PresenceStore) SetOffline(ctx context.Context, userID string) (time.Time, error) {
	now := time.Now().UTC()
	data, _ := json.Marshal(PresenceStatus{UserID: userID, IsOnline: false, LastSeen: now})

	pipe := p.client.Pipeline()
	// Offline status outlives the online TTL so last-seen stays queryable.
	pipe.Set(ctx, presenceKeyPrefix+userID, data, 24*time.Hour)
	pipe.ZRem(ctx, presenceHeartbeatKey, userID)
	pipe.Del(ctx, connectionsKeyPrefix+userID, viewingKeyPrefix+userID)
	_, err := pipe.Exec(ctx)
	return now, err
}

// Heartbeat refreshes TTLs for a live connection.
func (p *PresenceStore) Heartbeat(ctx context.Context, userID string) error {
	now := time.Now()
	pipe := p.client.Pipeline()
	pipe.Expire(ctx, presenceKeyPrefix+userID, p.ttl)
	pipe.Expire(ctx, connectionsKeyPrefix+userID, p.ttl)
	pipe.ZAdd(ctx, presenceHeartbeatKey, goredis.Z{Score: float64(now.Unix()), Member: userID})
	_, err := pipe.Exec(ctx)
	return err
}

// GetMultiplePresence returns the presence status of each user. Users with
// no record come back offline with a zero LastSeen.
func (p *PresenceStore) GetMultiplePresence(ctx context.Context, userIDs []string) (map[string]*PresenceStatus, error) {
	result := make(map[string]*PresenceStatus, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	pipe := p.client.Pipeline()
	cmds := make(map[string]*goredis.StringCmd, len(userIDs))
	for _, userID := range userIDs {
		cmds[userID] = pipe.Get(ctx, presenceKeyPrefix+userID)
	}
	// Missing keys surface as goredis.Nil on the individual commands.
	_, _ = pipe.Exec(ctx)

	for userID, cmd := range cmds {
		status := &PresenceStatus{UserID: userID}
		if data, err := cmd.Result(); err == nil {
			_ = json.Unmarshal([]byte(data), status)
		}
		result[userID] = status
	}
	return result, nil
}

// CleanupStalePresence marks users offline whose last heartbeat is older than
// maxAge, typically after an instance died without closing its sockets.
// It returns the users that were flipped.
func (p *PresenceStore) CleanupStalePresence(ctx context.Context, maxAge time.Duration) ([]string, error) {
	threshold := time.Now().Add(-maxAge).Unix()

	stale, err := p.client.ZRangeByScore(ctx, presenceHeartbeatKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(threshold, 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	flipped := make([]string, 0, len(stale))
	for _, userID := range stale {
		if _, err := p.SetOffline(ctx, userID); err != nil {
			return flipped, err
		}
		flipped = append(flipped, userID)
	}
	return flipped, nil
}

func typingKey(conversationID uuid.UUID) string {
	return typingKeyPrefix + conversationID.String()
}

// TrackTyping sets or clears the typing indicator of userID. Entries expire
// after TypingWindow unless renewed.
func (p *PresenceStore) TrackTyping(ctx context.Context, conversationID uuid.UUID, userID string, isTyping bool) error {
	key := typingKey(conversationID)
	if !isTyping {
		return p.client.ZRem(ctx, key, userID).Err()
	}
	expiresAt := time.Now().Add(TypingWindow)
	pipe := p.client.Pipeline()
	pipe.ZAdd(ctx, key, goredis.Z{Score: float64(expiresAt.UnixMilli()), Member: userID})
	pipe.Expire(ctx, key, TypingWindow*2)
	_, err := pipe.Exec(ctx)
	return err
}

// GetTypingUsers returns users whose typing indicator has not expired.
func (p *PresenceStore) GetTypingUsers(ctx context.Context, conversationID uuid.UUID) ([]string, error) {
	key := typingKey(conversationID)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	pipe := p.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+now)
	members := pipe.ZRange(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, err
	}
	return members.Val(), nil
}

// SetViewing records the conversation userID has open.
func (p *PresenceStore) SetViewing(ctx context.Context, userID string, conversationID uuid.UUID) error {
	return p.client.Set(ctx, viewingKeyPrefix+userID, conversationID.String(), p.ttl).Err()
}

var clearViewingScript = goredis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// ClearViewing forgets the open conversation, but only if it is still
// conversationID so a late close cannot clobber a newer open.
func (p *PresenceStore) ClearViewing(ctx context.Context, userID string, conversationID uuid.UUID) error {
	return clearViewingScript.Run(ctx, p.client, []string{viewingKeyPrefix + userID}, conversationID.String()).Err()
}

// IsViewing reports whether userID currently has conversationID open.
func (p *PresenceStore) IsViewing(ctx context.Context, userID string, conversationID uuid.UUID) (bool, error) {
	v, err := p.client.Get(ctx, viewingKeyPrefix+userID).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read viewing state: %w", err)
	}
	return v == conversationID.String(), nil
}
