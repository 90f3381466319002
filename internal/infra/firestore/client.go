package firestore

import (
	"context"
	"os"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	challengesCollection  = "challenges"
	eventsCollection      = "events"
	usersCollection       = "users"
	submissionsCollection = "submissions"
	creditsCollection     = "credits"
)

// NewClient connects to Firestore, or to the emulator when FIRESTORE_EMULATOR_HOST is set.
func NewClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") != "" {
		return firestore.NewClient(ctx, projectID, option.WithoutAuthentication())
	}
	return firestore.NewClient(ctx, projectID)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}
