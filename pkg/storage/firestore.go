package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/honorarium/pkg/log"
	"github.com/raterudder/honorarium/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Each deployment keeps its config and audit log under its own document.
type FirestoreProvider struct {
	client     *firestore.Client
	projectID  string
	database   string
	deployment string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	deployment := lflag.String("firestore-deployment", "default", "Document under which this deployment's config is stored")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.deployment = *deployment

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID can be inferred so we only require the deployment.
	if f.deployment == "" {
		return fmt.Errorf("firestore-deployment cannot be empty")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(name string) (*firestore.CollectionRef, error) {
	if f.deployment == "" {
		return nil, fmt.Errorf("deployment cannot be empty")
	}
	return f.client.Collection("deployments").Doc(f.deployment).Collection(name), nil
}

// GetConfig retrieves the estimator config from the "config/estimator" document.
func (f *FirestoreProvider) GetConfig(ctx context.Context) (types.Config, int, error) {
	coll, err := f.getCollection("config")
	if err != nil {
		return types.Config{}, 0, err
	}
	doc, err := coll.Doc("estimator").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// nothing stored yet, migration fills in the defaults
			return types.Config{}, 0, nil
		}
		return types.Config{}, 0, fmt.Errorf("failed to fetch config doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "config doc missing json", slog.String("deployment", f.deployment))
		return types.Config{}, 0, fmt.Errorf("config document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "config doc json not string", slog.String("deployment", f.deployment))
		return types.Config{}, 0, fmt.Errorf("config 'json' field is not a string")
	}

	var c types.Config
	if err := json.Unmarshal([]byte(jsonStr), &c); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal config json", slog.String("deployment", f.deployment), slog.Any("err", err))
		return types.Config{}, 0, fmt.Errorf("failed to unmarshal config json: %w", err)
	}
	return c, version, nil
}

// SetConfig saves the estimator config to the "config/estimator" document.
// It stores the config as a JSON string for portability.
func (f *FirestoreProvider) SetConfig(ctx context.Context, cfg types.Config, version int) error {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	coll, err := f.getCollection("config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("estimator").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// InsertConfigChange adds an audit record to the "config_changes" collection.
// The document ID is the RFC3339Nano timestamp so IDs sort chronologically.
func (f *FirestoreProvider) InsertConfigChange(ctx context.Context, change types.ConfigChange) error {
	jsonBytes, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal config change: %w", err)
	}

	coll, err := f.getCollection("config_changes")
	if err != nil {
		return err
	}
	docID := change.Timestamp.UTC().Format(time.RFC3339Nano)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": change.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert config change: %w", err)
	}
	return nil
}

// ListConfigChanges returns the most recent config changes, newest first.
func (f *FirestoreProvider) ListConfigChanges(ctx context.Context, limit int) ([]types.ConfigChange, error) {
	if limit <= 0 {
		limit = DefaultChangesLimit
	}
	coll, err := f.getCollection("config_changes")
	if err != nil {
		return nil, err
	}
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var changes []types.ConfigChange
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating config changes: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "config change doc missing json", slog.String("changeID", doc.Ref.ID), slog.Any("err", err))
			return nil, fmt.Errorf("config change document %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "config change doc json not string", slog.String("changeID", doc.Ref.ID))
			return nil, fmt.Errorf("config change document %s 'json' field is not string", doc.Ref.ID)
		}

		var c types.ConfigChange
		if err := json.Unmarshal([]byte(jsonStr), &c); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal config change", slog.String("changeID", doc.Ref.ID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal config change (id=%s): %w", doc.Ref.ID, err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}
