package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ripple/cmd/internal/ids"
)

// PostgresStore is the primary Store implementation.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - AppendMessage serializes writers per conversation with a transactional
//   advisory lock, so Seq is strictly monotonic and gap-free under load.
// - FindOrCreateConversation relies on the unique (participant_lo,
//   participant_hi) index; a lost insert race falls back to the winner's row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "ripple").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
// It does not run migrations; schema management is external.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "ripple",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// FindOrCreateConversation returns the conversation for {a,b}, creating it when absent.
func (s *PostgresStore) FindOrCreateConversation(ctx context.Context, a, b string, now time.Time) (Conversation, bool, error) {
	const op = "chat.FindOrCreateConversation"

	if s == nil || s.pool == nil {
		return Conversation{}, false, errors.New("chat: nil store")
	}
	lo, hi, err := NormalizePair(a, b)
	if err != nil {
		return Conversation{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	conversations := pgIdent(s.schema, "conversations")

	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, false, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}

	var conv Conversation
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+conversations+` (id, participant_lo, participant_hi, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (participant_lo, participant_hi) DO NOTHING
		 RETURNING id, participant_lo, participant_hi, created_at`,
		id, lo, hi, now,
	).Scan(&conv.ID, &conv.ParticipantLo, &conv.ParticipantHi, &conv.CreatedAt)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, false, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}

	// Conflict: another writer created the pair first (or it already existed).
	err = s.pool.QueryRow(ctx,
		`SELECT id, participant_lo, participant_hi, created_at
		   FROM `+conversations+`
		  WHERE participant_lo = $1 AND participant_hi = $2`,
		lo, hi,
	).Scan(&conv.ID, &conv.ParticipantLo, &conv.ParticipantHi, &conv.CreatedAt)
	if err != nil {
		return Conversation{}, false, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	return conv, false, nil
}

// ListConversations returns every conversation containing userID, oldest first.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	const op = "chat.ListConversations"

	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, OpError{Op: op, Kind: ErrValidation, Msg: "missing user id"}
	}

	conversations := pgIdent(s.schema, "conversations")

	rows, err := s.pool.Query(ctx,
		`SELECT id, participant_lo, participant_hi, created_at
		   FROM `+conversations+`
		  WHERE participant_lo = $1 OR participant_hi = $1
		  ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ParticipantLo, &c.ParticipantHi, &c.CreatedAt); err != nil {
			return nil, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	return out, nil
}

// GetConversation returns the conversation by id or ErrNotFound.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	const op = "chat.GetConversation"

	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("chat: nil store")
	}

	conversations := pgIdent(s.schema, "conversations")

	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, participant_lo, participant_hi, created_at
		   FROM `+conversations+`
		  WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.ParticipantLo, &c.ParticipantHi, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, NotFoundError{Op: op, Resource: "conversation"}
	}
	if err != nil {
		return Conversation{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	return c, nil
}

// AppendMessage appends one message with a per-conversation advisory lock
// and a seq cursor row, so concurrent sends to one conversation both land
// in a strict total order.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendInput) (Message, error) {
	const op = "chat.AppendMessage"

	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	in, err := validateAppend(op, in)
	if err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversations := pgIdent(s.schema, "conversations")
	cursors := pgIdent(s.schema, "conversation_cursors")
	messages := pgIdent(s.schema, "messages")

	// Serialize all writes per conversation. hashtextextended reduces
	// collision risk vs hashtext.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConversationID); err != nil {
		return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: fmt.Sprintf("advisory lock: %v", err)}
	}

	var conv Conversation
	err = tx.QueryRow(ctx,
		`SELECT id, participant_lo, participant_hi, created_at
		   FROM `+conversations+`
		  WHERE id = $1`,
		in.ConversationID,
	).Scan(&conv.ID, &conv.ParticipantLo, &conv.ParticipantHi, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, NotFoundError{Op: op, Resource: "conversation"}
	}
	if err != nil {
		return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	if !conv.HasParticipant(in.SenderID) {
		return Message{}, OpError{Op: op, Kind: ErrForbidden, Msg: "sender is not a participant"}
	}

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (conversation_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE conversation_id = $1
		RETURNING (next_seq - 1)`,
		in.ConversationID,
	).Scan(&seq); err != nil {
		return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}

	msgID, err := ids.NewULID(in.Now)
	if err != nil {
		return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (id, conversation_id, seq, sender_id, body, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msgID, in.ConversationID, seq, in.SenderID, in.Body, in.Now,
	); err != nil {
		return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: fmt.Sprintf("insert message: %v", err)}
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}

	return Message{
		ID:             msgID,
		ConversationID: in.ConversationID,
		Seq:            seq,
		SenderID:       in.SenderID,
		Body:           in.Body,
		SentAt:         in.Now,
	}, nil
}

// Messages returns the full persisted log ordered by seq ASC.
func (s *PostgresStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	const op = "chat.Messages"

	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, OpError{Op: op, Kind: ErrValidation, Msg: "missing conversation id"}
	}

	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, seq, sender_id, body, sent_at
		   FROM `+messages+`
		  WHERE conversation_id = $1
		  ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.Body, &m.SentAt); err != nil {
			return nil, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
