package board

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultChannel is the Redis channel task changes are published on.
const DefaultChannel = "taskmaster:task-changes"

// Change event types.
const (
	TaskCreated      = "task-created"
	TaskUpdated      = "task-updated"
	TaskDeleted      = "task-deleted"
	TasksBulkUpdated = "tasks-bulk-updated"
)

// ChangeEvent announces a committed store write.
type ChangeEvent struct {
	Type      string   `json:"type"`
	TaskIDs   []string `json:"taskIds,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// ChangeFeed carries store writes between instances over Redis pub/sub so
// every board can refetch after a write it did not make itself.
type ChangeFeed struct {
	rc      *redis.Client
	channel string
	logger  *log.Logger
}

func NewChangeFeed(rc *redis.Client, channel string, logger *log.Logger) *ChangeFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ChangeFeed{rc: rc, channel: channel, logger: logger}
}

// Publish announces a write. Failures are logged, never returned: the write
// itself already succeeded.
func (f *ChangeFeed) Publish(ctx context.Context, eventType string, ids ...string) {
	if f == nil || f.rc == nil {
		return
	}
	payload, err := sonic.Marshal(ChangeEvent{Type: eventType, TaskIDs: ids, Timestamp: time.Now().UnixNano()})
	if err != nil {
		f.logger.WithError(err).Error("marshal change event")
		return
	}
	if err := f.rc.Publish(ctx, f.channel, payload).Err(); err != nil {
		f.logger.Errorf("Unable to publish %s to %s: %v", eventType, f.channel, err)
	}
}

// Run calls onChange for every event until ctx ends, resubscribing when the
// subscription drops.
func (f *ChangeFeed) Run(ctx context.Context, onChange func(ctx context.Context, ev ChangeEvent)) {
	for {
		sub := f.rc.Subscribe(ctx, f.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev ChangeEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					f.logger.Errorf("unable to parse change event: %v", err)
					continue
				}
				onChange(ctx, ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		f.logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Follow refreshes r whenever another writer changes the store.
func (f *ChangeFeed) Follow(ctx context.Context, r *Reconciler) {
	f.Run(ctx, func(ctx context.Context, ev ChangeEvent) {
		if err := r.Refresh(ctx); err != nil {
			f.logger.WithField("event", ev.Type).WithError(err).Warn("refresh after change event")
		}
	})
}
