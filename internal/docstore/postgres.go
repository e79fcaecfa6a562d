package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bassista/go_courses/internal/logger"
)

const notifyChannel = "documents_changed"

// schemaSQL creates the documents table and the trigger that announces every
// change on notifyChannel with the collection name as payload.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	fields     JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);

CREATE OR REPLACE FUNCTION documents_notify() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('documents_changed', OLD.collection);
	ELSE
		PERFORM pg_notify('documents_changed', NEW.collection);
	END IF;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS documents_notify ON documents;
CREATE TRIGGER documents_notify
	AFTER INSERT OR UPDATE OR DELETE ON documents
	FOR EACH ROW EXECUTE FUNCTION documents_notify();
`

// PostgresStore keeps documents as JSONB rows and feeds subscriptions from
// LISTEN/NOTIFY, so writes made by any client reach every subscriber.
type PostgresStore struct {
	pool  *pgxpool.Pool
	newID func() string

	// open feeds each hold a pooled connection, released before the pool closes
	mu    sync.Mutex
	feeds map[*feed]struct{}
}

// NewPostgresStore opens a pool, verifies it and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore: postgres ping failed: %w", err)
	}

	s := NewPostgresStoreWithPool(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStoreWithPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, newID: uuid.NewString, feeds: map[*feed]struct{}{}}
}

// EnsureSchema is idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("docstore: apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryAll(ctx context.Context, collection string) ([]Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	const q = `SELECT id, fields FROM documents WHERE collection = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, q, collection)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var (
			d   Document
			raw []byte
		)
		if err := rows.Scan(&d.ID, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := decodeJSON(raw, &d.Fields); err != nil {
			return nil, fmt.Errorf("document %s/%s: decode fields: %w", collection, d.ID, err)
		}
		if d.Fields == nil {
			d.Fields = map[string]any{}
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := checkCollection(collection); err != nil {
		return "", err
	}
	stored, err := cloneFields(fields)
	if err != nil {
		return "", err
	}

	id := s.newID()
	const q = `INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, collection, id, stored); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	patch, err := cloneFields(fields)
	if err != nil {
		return err
	}

	const q = `UPDATE documents SET fields = fields || $3::jsonb WHERE collection = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, collection, id, patch)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(collection, id)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}

	const q = `DELETE FROM documents WHERE collection = $1 AND id = $2`
	if _, err := s.pool.Exec(ctx, q, collection, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Subscribe holds one pooled connection in LISTEN mode for the lifetime of the feed.
func (s *PostgresStore) Subscribe(ctx context.Context, collection string) (Subscription, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	listenDone := make(chan struct{})
	f := startFeed(ctx, func(ctx context.Context) ([]Document, error) {
		return s.QueryAll(ctx, collection)
	})
	f.onClose = func() error {
		<-listenDone
		s.untrack(f)
		return nil
	}
	s.track(f)

	go func() {
		defer close(listenDone)
		defer func() {
			if !conn.Conn().IsClosed() {
				unlistenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_, _ = conn.Exec(unlistenCtx, "UNLISTEN *")
				cancel()
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(f.Context())
			if err != nil {
				if f.Context().Err() != nil {
					return
				}
				logger.WithComponent("postgres-store").Warnf("wait for notification: %v", err)
				f.Abort(fmt.Errorf("listen %s: %w", notifyChannel, err))
				return
			}
			if n.Payload == collection {
				f.Notify()
			}
		}
	}()

	return f, nil
}

func (s *PostgresStore) track(f *feed) {
	s.mu.Lock()
	s.feeds[f] = struct{}{}
	s.mu.Unlock()
}

func (s *PostgresStore) untrack(f *feed) {
	s.mu.Lock()
	delete(s.feeds, f)
	s.mu.Unlock()
}

func (s *PostgresStore) openFeeds() []*feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := make([]*feed, 0, len(s.feeds))
	for f := range s.feeds {
		open = append(open, f)
	}
	return open
}

// Close ends every open feed first: pgxpool.Close waits for acquired
// connections, and a LISTEN connection is only released by its feed.
func (s *PostgresStore) Close() error {
	for _, f := range s.openFeeds() {
		_ = f.Close()
	}
	s.pool.Close()
	return nil
}
