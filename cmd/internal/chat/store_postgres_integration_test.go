package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests against a real Postgres. Gated on RIPPLE_TEST_DATABASE_URL;
// each run uses a throwaway schema so parallel CI jobs cannot collide.

const testDatabaseEnv = "RIPPLE_TEST_DATABASE_URL"

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set; skipping Postgres integration tests", testDatabaseEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	var raw [4]byte
	if _, err := rand.Read(raw[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	schema := "ripple_it_" + hex.EncodeToString(raw[:])

	ctx := context.Background()
	if _, err := pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA %q`, schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schema))
	})

	ddl := []string{
		fmt.Sprintf(`CREATE TABLE %s (
			id              TEXT PRIMARY KEY,
			participant_lo  TEXT NOT NULL,
			participant_hi  TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			UNIQUE (participant_lo, participant_hi)
		)`, pgIdent(schema, "conversations")),
		fmt.Sprintf(`CREATE TABLE %s (
			conversation_id TEXT PRIMARY KEY,
			next_seq        BIGINT NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, pgIdent(schema, "conversation_cursors")),
		fmt.Sprintf(`CREATE TABLE %s (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq             BIGINT NOT NULL,
			sender_id       TEXT NOT NULL,
			body            TEXT NOT NULL,
			sent_at         TIMESTAMPTZ NOT NULL,
			UNIQUE (conversation_id, seq)
		)`, pgIdent(schema, "messages")),
	}
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("apply ddl: %v", err)
		}
	}
	return schema
}

func mustTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	pool := mustOpenTestPool(t)
	schema := mustCreateTestSchema(t, pool)

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return st
}

func TestPostgresStore_BasicFlow(t *testing.T) {
	st := mustTestStore(t)
	ctx := context.Background()

	conv, created, err := st.FindOrCreateConversation(ctx, "alice", "bob", time.Now().UTC())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	again, created, err := st.FindOrCreateConversation(ctx, "bob", "alice", time.Now().UTC())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if created || again.ID != conv.ID {
		t.Fatalf("pair must resolve to one conversation")
	}

	for want := int64(1); want <= 3; want++ {
		msg, err := st.AppendMessage(ctx, AppendInput{
			ConversationID: conv.ID,
			SenderID:       "alice",
			Body:           fmt.Sprintf("m%d", want),
		})
		if err != nil {
			t.Fatalf("append %d: %v", want, err)
		}
		if msg.Seq != want {
			t.Fatalf("seq=%d want=%d", msg.Seq, want)
		}
	}

	msgs, err := st.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	if _, err := st.AppendMessage(ctx, AppendInput{ConversationID: conv.ID, SenderID: "mallory", Body: "hi"}); !IsForbidden(err) {
		t.Fatalf("outsider append: want forbidden, got %v", err)
	}
	if _, err := st.GetConversation(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("missing conversation: want not-found, got %v", err)
	}
}

func TestPostgresStore_ConcurrentAppend_StrictSeq(t *testing.T) {
	st := mustTestStore(t)
	ctx := context.Background()

	conv, _, err := st.FindOrCreateConversation(ctx, "alice", "bob", time.Now().UTC())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 24

	var wg sync.WaitGroup
	wg.Add(n)
	errCh := make(chan error, n)

	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			sender := "alice"
			if i%2 == 0 {
				sender = "bob"
			}
			_, err := st.AppendMessage(ctx, AppendInput{
				ConversationID: conv.ID,
				SenderID:       sender,
				Body:           fmt.Sprintf("m%d", i),
			})
			if err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent append: %v", err)
	}

	msgs, err := st.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("gap at index %d: seq=%d", i, m.Seq)
		}
	}
}

func TestPostgresStore_ConcurrentFindOrCreate_OneWinner(t *testing.T) {
	st := mustTestStore(t)
	ctx := context.Background()

	const n = 8

	var wg sync.WaitGroup
	wg.Add(n)
	idCh := make(chan string, n)
	errCh := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			conv, _, err := st.FindOrCreateConversation(ctx, "alice", "bob", time.Now().UTC())
			if err != nil {
				errCh <- err
				return
			}
			idCh <- conv.ID
		}()
	}
	wg.Wait()
	close(idCh)
	close(errCh)
	for err := range errCh {
		t.Fatalf("find-or-create: %v", err)
	}

	seen := make(map[string]struct{})
	for id := range idCh {
		seen[id] = struct{}{}
	}
	if len(seen) != 1 {
		t.Fatalf("racing creators produced %d distinct conversations", len(seen))
	}
}
