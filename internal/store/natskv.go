package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/threadline-ai/chat-gateway/internal/model"
	natsclient "github.com/threadline-ai/chat-gateway/internal/nats"
)

// kvBucket is the JetStream key-value bucket holding thread collections.
const kvBucket = "chat_threads"

// NATSRepository persists thread collections in a JetStream key-value
// bucket, one entry per owner.
type NATSRepository struct {
	client *natsclient.Client
	kv     jetstream.KeyValue
}

// NewNATSRepository binds to the thread bucket, creating it when absent.
func NewNATSRepository(ctx context.Context, client *natsclient.Client) (*NATSRepository, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, kvBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      kvBucket,
			Description: "Per-owner chat thread collections",
			Storage:     jetstream.FileStorage,
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind thread bucket: %w", err)
	}

	return &NATSRepository{client: client, kv: kv}, nil
}

// Load implements Repository.
func (r *NATSRepository) Load(ctx context.Context, ownerID string) ([]model.Thread, error) {
	entry, err := r.kv.Get(ctx, ownerKey(ownerID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read threads from bucket: %w", err)
	}

	var threads []model.Thread
	if err := json.Unmarshal(entry.Value(), &threads); err != nil {
		return nil, fmt.Errorf("failed to decode threads: %w", err)
	}
	return threads, nil
}

// Save implements Repository.
func (r *NATSRepository) Save(ctx context.Context, ownerID string, threads []model.Thread) error {
	raw, err := json.Marshal(threads)
	if err != nil {
		return fmt.Errorf("failed to encode threads: %w", err)
	}

	if _, err := r.kv.Put(ctx, ownerKey(ownerID), raw); err != nil {
		return fmt.Errorf("failed to write threads to bucket: %w", err)
	}
	return nil
}

// Ping implements Repository.
func (r *NATSRepository) Ping(ctx context.Context) error {
	if !r.client.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

// Name implements Repository.
func (r *NATSRepository) Name() string {
	return "nats"
}

// ownerKey maps an arbitrary owner identifier onto the KV key charset.
func ownerKey(ownerID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(ownerID))
}
