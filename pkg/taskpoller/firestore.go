package taskpoller

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore-backed
// registration store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreRegistrationStore persists task registrations as documents in a
// Firestore collection, one document per task id. Suitable for low-volume
// deployments; the registration write rate is one per submitted job.
type FirestoreRegistrationStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreRegistrationStore creates a registration store over an
// injected Firestore client. The client's lifecycle is managed externally.
func NewFirestoreRegistrationStore(
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreRegistrationStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreRegistrationStore initialized.")

	return &FirestoreRegistrationStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreRegistrationStore").Logger(),
	}, nil
}

// Save writes the registration document, overwriting any previous state for
// the same task id.
func (s *FirestoreRegistrationStore) Save(ctx context.Context, task *TrackedTask) error {
	if task == nil || task.TaskID == "" {
		return fmt.Errorf("registration must have a task id")
	}
	_, err := s.client.Collection(s.collectionName).Doc(task.TaskID).Set(ctx, task)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to write registration to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", task.TaskID, err)
	}
	s.logger.Debug().Str("task_id", task.TaskID).Msg("Registration persisted to Firestore.")
	return nil
}

// Delete removes the registration document. Deleting an absent document is
// not an error.
func (s *FirestoreRegistrationStore) Delete(ctx context.Context, taskID string) error {
	_, err := s.client.Collection(s.collectionName).Doc(taskID).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to delete registration from Firestore.")
		return fmt.Errorf("firestore delete for %s: %w", taskID, err)
	}
	return nil
}

// Get retrieves one registration, for operational inspection.
func (s *FirestoreRegistrationStore) Get(ctx context.Context, taskID string) (*TrackedTask, error) {
	docSnap, err := s.client.Collection(s.collectionName).Doc(taskID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("registration not found: %w", err)
		}
		return nil, fmt.Errorf("firestore get for %s: %w", taskID, err)
	}
	var task TrackedTask
	if err := docSnap.DataTo(&task); err != nil {
		return nil, fmt.Errorf("firestore DataTo for %s: %w", taskID, err)
	}
	return &task, nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreRegistrationStore) Close() error {
	return nil
}
