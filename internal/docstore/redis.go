package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bassista/go_courses/internal/logger"
)

// RedisOptions configures a RedisStore connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

const updateRetries = 3

// RedisStore keeps each collection in two keys: a hash of id -> JSON fields and a
// sorted set ordering ids by creation time. Every write publishes the document id
// on the collection's events channel, which drives the subscription feeds.
type RedisStore struct {
	client *redis.Client
	prefix string
	newID  func() string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("docstore: redis ping failed: %w", err)
	}

	return NewRedisStoreWithClient(client, opts.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, newID: uuid.NewString}
}

func (s *RedisStore) key(collection, suffix string) string {
	if s.prefix == "" {
		return collection + ":" + suffix
	}
	return s.prefix + ":" + collection + ":" + suffix
}

func (s *RedisStore) docsKey(collection string) string   { return s.key(collection, "docs") }
func (s *RedisStore) orderKey(collection string) string  { return s.key(collection, "order") }
func (s *RedisStore) eventsKey(collection string) string { return s.key(collection, "events") }

func (s *RedisStore) QueryAll(ctx context.Context, collection string) ([]Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	ids, err := s.client.ZRange(ctx, s.orderKey(collection), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	if len(ids) == 0 {
		return []Document{}, nil
	}

	values, err := s.client.HMGet(ctx, s.docsKey(collection), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	docs := make([]Document, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// id left in the order set by an interrupted delete
			continue
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", collection, ids[i], err)
		}
		docs = append(docs, Document{ID: ids[i], Fields: fields})
	}
	return docs, nil
}

func (s *RedisStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := checkCollection(collection); err != nil {
		return "", err
	}
	stored, err := cloneFields(fields)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}

	id := s.newID()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.docsKey(collection), id, payload)
		pipe.ZAdd(ctx, s.orderKey(collection), redis.Z{Score: float64(time.Now().UnixMicro()), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}

	s.publish(ctx, collection, id)
	return id, nil
}

func (s *RedisStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	patch, err := cloneFields(fields)
	if err != nil {
		return err
	}

	docsKey := s.docsKey(collection)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, docsKey, id).Result()
		if errors.Is(err, redis.Nil) {
			return notFound(collection, id)
		}
		if err != nil {
			return err
		}
		current, err := decodeFields(raw)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(mergeFields(current, patch))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, docsKey, id, payload)
			return nil
		})
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err = s.client.Watch(ctx, txf, docsKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	s.publish(ctx, collection, id)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.docsKey(collection), id)
		pipe.ZRem(ctx, s.orderKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	s.publish(ctx, collection, id)
	return nil
}

// Subscribe listens on the collection's events channel. The channel subscription is
// confirmed before the first listing is loaded so no write falls between them.
func (s *RedisStore) Subscribe(ctx context.Context, collection string) (Subscription, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	pubsub := s.client.Subscribe(ctx, s.eventsKey(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	listenDone := make(chan struct{})
	f := startFeed(ctx, func(ctx context.Context) ([]Document, error) {
		return s.QueryAll(ctx, collection)
	})
	f.onClose = func() error {
		err := pubsub.Close()
		<-listenDone
		return err
	}

	go func() {
		defer close(listenDone)
		messages := pubsub.Channel()
		for {
			select {
			case <-f.Context().Done():
				return
			case _, ok := <-messages:
				if !ok {
					f.Abort(fmt.Errorf("subscribe %s: change stream closed: %w", collection, errdefs.ErrUnavailable))
					return
				}
				f.Notify()
			}
		}
	}()

	return f, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) publish(ctx context.Context, collection, id string) {
	if err := s.client.Publish(ctx, s.eventsKey(collection), id).Err(); err != nil {
		// the write itself succeeded; feeds catch up on the next change
		logger.WithComponent("redis-store").Warnf("publish change on %s: %v", collection, err)
	}
}

func decodeFields(raw string) (map[string]any, error) {
	fields := map[string]any{}
	if err := decodeJSON([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}
