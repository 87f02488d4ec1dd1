package chat

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"ripple/cmd/internal/ids"
)

// Bucket layout for BoltStore. Message buckets are nested per conversation
// under bucketMessages; the bucket sequence provides gap-free Seq values.
var (
	bucketConversations = []byte("conversations")
	bucketPairs         = []byte("pairs")
	bucketMessages      = []byte("messages")
)

// BoltStore is an embedded single-file Store for deployments without a
// Postgres server. All writes go through bbolt's single-writer transaction,
// which already serializes concurrent appends.
type BoltStore struct {
	db *bolt.DB
}

type boltConversation struct {
	ID            string    `json:"id"`
	ParticipantLo string    `json:"participant_lo"`
	ParticipantHi string    `json:"participant_hi"`
	CreatedAt     time.Time `json:"created_at"`
}

type boltMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// OpenBoltStore opens (or creates) the database file at path and prepares
// the root buckets.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("chat: bolt dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("chat: bolt open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketPairs, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chat: bolt init: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FindOrCreateConversation returns the conversation for {a,b}, creating it when absent.
func (s *BoltStore) FindOrCreateConversation(ctx context.Context, a, b string, now time.Time) (Conversation, bool, error) {
	const op = "chat.FindOrCreateConversation"

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

	var (
		conv    Conversation
		created bool
	)
	err = s.db.Update(func(tx *bolt.Tx) error {
		pairs := tx.Bucket(bucketPairs)
		convs := tx.Bucket(bucketConversations)

		key := []byte(pairKey(lo, hi))
		if id := pairs.Get(key); id != nil {
			rec, err := readBoltConversation(convs, string(id))
			if err != nil {
				return err
			}
			conv = rec
			return nil
		}

		id, err := ids.NewULID(now)
		if err != nil {
			return err
		}
		rec := boltConversation{
			ID:            id,
			ParticipantLo: lo,
			ParticipantHi: hi,
			CreatedAt:     now,
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := convs.Put([]byte(id), raw); err != nil {
			return err
		}
		if err := pairs.Put(key, []byte(id)); err != nil {
			return err
		}

		conv = Conversation(rec)
		created = true
		return nil
	})
	if err != nil {
		return Conversation{}, false, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	return conv, created, nil
}

// ListConversations scans the conversations bucket. Keys are ULIDs, so the
// scan yields creation order.
func (s *BoltStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	const op = "chat.ListConversations"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			var rec boltConversation
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			c := Conversation(rec)
			if c.HasParticipant(userID) {
				out = append(out, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	return out, nil
}

// GetConversation returns the conversation by id or ErrNotFound.
func (s *BoltStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	const op = "chat.GetConversation"

	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	var conv Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		rec, err := readBoltConversation(tx.Bucket(bucketConversations), id)
		if err != nil {
			return err
		}
		conv = rec
		return nil
	})
	if errors.Is(err, errBoltNotFound) {
		return Conversation{}, NotFoundError{Op: op, Resource: "conversation"}
	}
	if err != nil {
		return Conversation{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	return conv, nil
}

// AppendMessage appends one message inside a single write transaction.
func (s *BoltStore) AppendMessage(ctx context.Context, in AppendInput) (Message, error) {
	const op = "chat.AppendMessage"

	in, err := validateAppend(op, in)
	if err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	var (
		msg     Message
		kindErr error
	)
	err = s.db.Update(func(tx *bolt.Tx) error {
		conv, err := readBoltConversation(tx.Bucket(bucketConversations), in.ConversationID)
		if errors.Is(err, errBoltNotFound) {
			kindErr = NotFoundError{Op: op, Resource: "conversation"}
			return kindErr
		}
		if err != nil {
			return err
		}
		if !conv.HasParticipant(in.SenderID) {
			kindErr = OpError{Op: op, Kind: ErrForbidden, Msg: "sender is not a participant"}
			return kindErr
		}

		log, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(in.ConversationID))
		if err != nil {
			return err
		}
		seqU, err := log.NextSequence()
		if err != nil {
			return err
		}

		id, err := ids.NewULID(in.Now)
		if err != nil {
			return err
		}

		rec := boltMessage{
			ID:             id,
			ConversationID: in.ConversationID,
			Seq:            int64(seqU),
			SenderID:       in.SenderID,
			Body:           in.Body,
			SentAt:         in.Now,
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := log.Put(seqKey(rec.Seq), raw); err != nil {
			return err
		}

		msg = Message(rec)
		return nil
	})
	if err != nil {
		if kindErr != nil {
			return Message{}, kindErr
		}
		return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	return msg, nil
}

// Messages returns the full log ordered by Seq ASC (big-endian keys keep
// the bucket cursor in seq order).
func (s *BoltStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	const op = "chat.Messages"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		out      []Message
		notFound bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketConversations).Get([]byte(conversationID)) == nil {
			notFound = true
			return nil
		}
		log := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if log == nil {
			return nil
		}
		return log.ForEach(func(_, v []byte) error {
			var rec boltMessage
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, Message(rec))
			return nil
		})
	})
	if err != nil {
		return nil, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	if notFound {
		return nil, NotFoundError{Op: op, Resource: "conversation"}
	}
	return out, nil
}

var errBoltNotFound = errors.New("bolt: record not found")

func readBoltConversation(b *bolt.Bucket, id string) (Conversation, error) {
	raw := b.Get([]byte(id))
	if raw == nil {
		return Conversation{}, errBoltNotFound
	}
	var rec boltConversation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Conversation{}, err
	}
	return Conversation(rec), nil
}

func seqKey(seq int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(seq))
	return k[:]
}
