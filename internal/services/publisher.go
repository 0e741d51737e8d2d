package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"engagement-backend/internal/models"
)

const MessageSessionSplit = "session_split"

// UserChannel is the pub/sub channel the websocket hub subscribes to.
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

// RedisSplitPublisher fans split notifications out to every server instance.
type RedisSplitPublisher struct {
	redis *redis.Client
}

func NewRedisSplitPublisher(client *redis.Client) *RedisSplitPublisher {
	return &RedisSplitPublisher{redis: client}
}

func (p *RedisSplitPublisher) PublishSplit(ctx context.Context, ev models.SplitEvent) error {
	data, err := json.Marshal(models.WSMessage{Type: MessageSessionSplit, Payload: ev})
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, UserChannel(ev.UserID), string(data)).Err()
}
