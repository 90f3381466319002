package firestore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ctf-scoring-service/internal/domain"
)

// Notifier derives change notifications from realtime snapshots of the
// submissions collection and, for event scopes, of the event document, whose
// participant list moves on registration. Writes are the notification, so
// Publish is a no-op.
type Notifier struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewNotifier(client *firestore.Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, logger: logger.With("component", "firestore_notifier")}
}

func (n *Notifier) Publish(context.Context, domain.Change) error {
	return nil
}

func (n *Notifier) Subscribe(ctx context.Context, scope domain.Scope) (<-chan domain.Change, func(), error) {
	subCtx, stop := context.WithCancel(ctx)
	out := make(chan domain.Change, 8)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	// emit drops the oldest pending change when the buffer is full.
	emit := func(change domain.Change) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case out <- change:
		default:
			select {
			case <-out:
			default:
			}
			out <- change
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.watchSubmissions(subCtx, scope, emit)
	}()
	if !scope.IsGlobal() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.watchParticipants(subCtx, scope, emit)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(out)
		close(done)
	}()

	cancel := func() {
		stop()
		<-done
	}
	return out, cancel, nil
}

func (n *Notifier) watchSubmissions(ctx context.Context, scope domain.Scope, emit func(domain.Change)) {
	it := n.client.Collection(submissionsCollection).Where("scopeEventId", "==", scope.EventID).Snapshots(ctx)
	defer it.Stop()

	initial := true
	for {
		snap, err := it.Next()
		if err != nil {
			n.logStopped(ctx, scope, "submissions", err)
			return
		}
		// The first snapshot replays existing documents.
		if initial {
			initial = false
			continue
		}
		for _, ch := range snap.Changes {
			if ch.Kind != firestore.DocumentAdded {
				continue
			}
			var d submissionDoc
			if err := ch.Doc.DataTo(&d); err != nil {
				continue
			}
			emit(domain.Change{
				Scope:        scope,
				ChallengeID:  d.ChallengeID,
				UserID:       d.UserID,
				SubmissionID: ch.Doc.Ref.ID,
				At:           d.SubmittedAt,
			})
		}
	}
}

func (n *Notifier) watchParticipants(ctx context.Context, scope domain.Scope, emit func(domain.Change)) {
	it := n.client.Collection(eventsCollection).Doc(scope.EventID).Snapshots(ctx)
	defer it.Stop()

	var known []string
	initial := true
	for {
		snap, err := it.Next()
		if err != nil {
			n.logStopped(ctx, scope, "event", err)
			return
		}
		if !snap.Exists() {
			continue
		}
		var d eventDoc
		if err := snap.DataTo(&d); err != nil {
			continue
		}
		if initial {
			initial = false
			known = d.Participants
			continue
		}
		for _, uid := range addedParticipants(known, d.Participants) {
			emit(domain.Change{Scope: scope, UserID: uid, At: snap.UpdateTime})
		}
		known = d.Participants
	}
}

func (n *Notifier) logStopped(ctx context.Context, scope domain.Scope, source string, err error) {
	if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled || ctx.Err() != nil {
		return
	}
	n.logger.Warn("snapshot listener stopped", "scope", scope.String(), "source", source, "error", err)
}

// addedParticipants returns the ids in next that are not in prev.
func addedParticipants(prev, next []string) []string {
	seen := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		seen[id] = struct{}{}
	}
	var added []string
	for _, id := range next {
		if _, ok := seen[id]; !ok {
			added = append(added, id)
		}
	}
	return added
}
