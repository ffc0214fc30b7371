package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meeting-speaker-server-golang/internal/data/msg"
	dbredis "meeting-speaker-server-golang/internal/db/redis"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier 说话状态写入 hash 并发布到频道
//
//	HSET    speaking:{room} {participant} 0|1
//	PUBLISH speaking:{room}:events {SpeakingEvent json}
//	HDEL    speaking:{room} {participant}   离开时
type RedisNotifier struct {
	client *redis.Client
	prefix string
	// ttl 会议室 hash 的过期时间，0 表示不过期
	ttl time.Duration
}

func NewRedisNotifier(client *redis.Client, prefix string, ttl time.Duration) *RedisNotifier {
	return &RedisNotifier{client: client, prefix: prefix, ttl: ttl}
}

func (n *RedisNotifier) Name() string {
	return "redis"
}

// StateKey 会议室说话状态 hash 的键
func (n *RedisNotifier) StateKey(roomID string) string {
	return dbredis.GetKeyWithPrefix(n.prefix, "speaking:"+roomID)
}

// EventChannel 会议室事件频道
func (n *RedisNotifier) EventChannel(roomID string) string {
	return n.StateKey(roomID) + ":events"
}

func (n *RedisNotifier) NotifySpeaking(ctx context.Context, ev msg.SpeakingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal speaking event: %w", err)
	}

	value := "0"
	if ev.Speaking {
		value = "1"
	}
	key := n.StateKey(ev.RoomID)

	pipe := n.client.TxPipeline()
	pipe.HSet(ctx, key, ev.ParticipantID, value)
	if n.ttl > 0 {
		pipe.Expire(ctx, key, n.ttl)
	}
	pipe.Publish(ctx, n.EventChannel(ev.RoomID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis notify %s/%s: %w", ev.RoomID, ev.ParticipantID, err)
	}
	return nil
}

func (n *RedisNotifier) NotifyLeave(ctx context.Context, roomID, participantID string) error {
	if err := n.client.HDel(ctx, n.StateKey(roomID), participantID).Err(); err != nil {
		return fmt.Errorf("redis leave %s/%s: %w", roomID, participantID, err)
	}
	return nil
}
