package gcp

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// ReportStore mirrors run reports into a Firestore collection, one document
// per run keyed by run ID. Quarantined files are also written to a
// "quarantine" subcollection so they can be queried on their own.
type ReportStore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewReportStore(ctx context.Context, projectID, collection string, logger *slog.Logger, opts ...option.ClientOption) (*ReportStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection must be provided to create a report store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := NewFirestoreClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	return &ReportStore{client: client, collection: collection, logger: logger}, nil
}

func (s *ReportStore) Close() error {
	return s.client.Close()
}

// maxBatchWrites is the Firestore limit on writes in one batch.
const maxBatchWrites = 500

type reportWrite struct {
	ref  *firestore.DocumentRef
	data any
}

// Publish writes the report and one document per quarantined file, in as
// many batches as needed. Re-publishing a run overwrites it. Batches commit
// in order, so a failure leaves the run document and a prefix of the
// quarantine records.
func (s *ReportStore) Publish(ctx context.Context, report models.RunReport) error {
	logCtx := s.logger.With("collection", s.collection, "runId", report.RunID)
	docRef := s.client.Collection(s.collection).Doc(report.RunID)

	writes := make([]reportWrite, 0, 1+len(report.Quarantined))
	writes = append(writes, reportWrite{ref: docRef, data: report})
	for i, rec := range report.Quarantined {
		writes = append(writes, reportWrite{ref: docRef.Collection("quarantine").Doc(fmt.Sprintf("%04d", i)), data: rec})
	}

	chunks := chunk(writes, maxBatchWrites)
	for n, part := range chunks {
		batch := s.client.Batch()
		for _, w := range part {
			batch.Set(w.ref, w.data)
		}
		if _, err := batch.Commit(ctx); err != nil {
			logCtx.Error("Failed to write run report to Firestore", "batch", n+1, "batches", len(chunks), "error", err)
			return fmt.Errorf("%w: failed to write run report batch %d of %d: %w", models.ErrAPI, n+1, len(chunks), err)
		}
	}
	logCtx.Info("Run report stored in Firestore.", "batches", len(chunks))
	return nil
}

// chunk splits items into consecutive slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
