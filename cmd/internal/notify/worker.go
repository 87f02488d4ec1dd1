package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"ripple/cmd/internal/users"
)

// Resolver answers display-name lookups for notification rendering.
// Implemented by the user directory. May be nil; rendering then falls back
// to raw ids.
type Resolver interface {
	ProfileByID(ctx context.Context, id string) (users.Profile, error)
}

// Worker consumes notification tasks and hands rendered notifications to
// the Sender.
type Worker struct {
	log      *slog.Logger
	srv      *asynq.Server
	mux      *asynq.ServeMux
	sender   Sender
	profiles Resolver
}

// NewWorker constructs a queue consumer bound to redisURI.
func NewWorker(log *slog.Logger, redisURI string, sender Sender, profiles Resolver) (*Worker, error) {
	if log == nil {
		log = slog.Default()
	}
	if sender == nil {
		sender = LogSender{Log: log}
	}

	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis uri: %w", err)
	}

	w := &Worker{
		log: log,
		srv: asynq.NewServer(opt, asynq.Config{
			Concurrency: 4,
			Logger:      asynqLogger{log: log},
		}),
		mux:      asynq.NewServeMux(),
		sender:   sender,
		profiles: profiles,
	}
	w.mux.HandleFunc(TaskMessageStored, w.handleMessageStored)
	w.mux.HandleFunc(TaskFollowToggled, w.handleFollowToggled)
	return w, nil
}

// Start launches the consumer loop in background goroutines.
func (w *Worker) Start() error {
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("notify: start worker: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight tasks and stops the consumer.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

func (w *Worker) handleMessageStored(ctx context.Context, t *asynq.Task) error {
	var p MessageStoredPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("notify: decode %s: %w", TaskMessageStored, err)
	}

	subject := fmt.Sprintf("New message from %s", w.displayName(ctx, p.SenderID))
	return w.sender.Notify(ctx, p.RecipientID, subject, p.Body)
}

func (w *Worker) handleFollowToggled(ctx context.Context, t *asynq.Task) error {
	var p FollowToggledPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("notify: decode %s: %w", TaskFollowToggled, err)
	}

	body := fmt.Sprintf("%s started following you", w.displayName(ctx, p.ActorID))
	return w.sender.Notify(ctx, p.TargetID, "New follower", body)
}

func (w *Worker) displayName(ctx context.Context, userID string) string {
	if w.profiles == nil {
		return userID
	}
	p, err := w.profiles.ProfileByID(ctx, userID)
	if err != nil {
		return userID
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Username != "" {
		return p.Username
	}
	return userID
}

// asynqLogger adapts slog to asynq's logger interface.
type asynqLogger struct {
	log *slog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
