package agenthub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/store"
)

const executionKeyPrefix = "workflow:"

// KVExecutionStore keeps execution records as JSON in a store.Store.
type KVExecutionStore struct {
	kv  store.Store
	ttl time.Duration
}

// NewKVExecutionStore persists records under "workflow:<id>". A zero ttl
// keeps them forever.
func NewKVExecutionStore(kv store.Store, ttl time.Duration) *KVExecutionStore {
	return &KVExecutionStore{kv: kv, ttl: ttl}
}

func (s *KVExecutionStore) SaveExecution(ctx context.Context, exec *WorkflowExecution) error {
	return store.SetJSON(ctx, s.kv, executionKeyPrefix+exec.ID, exec, s.ttl)
}

func (s *KVExecutionStore) LoadExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	var exec WorkflowExecution
	if err := store.GetJSON(ctx, s.kv, executionKeyPrefix+id, &exec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
		}
		return nil, err
	}
	return &exec, nil
}

func (s *KVExecutionStore) ListExecutions(ctx context.Context) ([]*WorkflowExecution, error) {
	keys, err := s.kv.Keys(ctx, executionKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*WorkflowExecution, 0, len(keys))
	for _, key := range keys {
		var exec WorkflowExecution
		if err := store.GetJSON(ctx, s.kv, key, &exec); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// expired between Keys and Get
				continue
			}
			return nil, err
		}
		out = append(out, &exec)
	}
	return out, nil
}

// NotificationPublisher publishes workflow events as broadcast A2A
// messages whose type is the topic.
type NotificationPublisher struct {
	sender RequestSender
}

func NewNotificationPublisher(sender RequestSender) *NotificationPublisher {
	return &NotificationPublisher{sender: sender}
}

func (p *NotificationPublisher) Publish(ctx context.Context, topic string, event map[string]any) error {
	t := a2a.MessageType(topic)
	if !t.Valid() {
		return fmt.Errorf("publish %s: %w", topic, a2a.ErrUnknownMessageType)
	}
	msg := a2a.NewMessage(t, p.sender.AgentID(), "", a2a.Payload(event))
	if id, ok := event["workflow_id"].(string); ok {
		msg.WorkflowID = id
	}
	_, err := p.sender.SendMessage(ctx, msg)
	return err
}
