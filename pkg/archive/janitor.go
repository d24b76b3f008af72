package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/webhooks"
)

const (
	// DefaultRetentionDays keeps roughly a month of delivery history.
	DefaultRetentionDays = 30

	// DefaultBatchSize bounds each archive object and each DELETE.
	DefaultBatchSize = 1000
)

// Uploader is the slice of object storage the janitor needs.
type Uploader interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
}

// JanitorConfig controls retention processing.
type JanitorConfig struct {
	// RetentionDays is how long terminal deliveries stay queryable.
	RetentionDays int

	// BatchSize caps the rows handled per archive object and per DELETE.
	BatchSize int
}

// Janitor prunes terminal delivery events past retention, optionally
// archiving each pruned batch to object storage as NDJSON first. Deletion
// is the commit point: a batch is only deleted after its archive object is
// stored, so a mid-run crash can leave a duplicate archive object behind
// but never an unarchived deletion.
type Janitor struct {
	deliveries webhooks.DeliveryStore
	uploader   Uploader
	config     JanitorConfig
	logger     *observability.Logger
	metrics    *observability.Metrics

	now func() time.Time
}

// NewJanitor creates a retention janitor. A nil uploader disables archiving
// and expired rows are deleted outright.
func NewJanitor(deliveries webhooks.DeliveryStore, uploader Uploader, config JanitorConfig, logger *observability.Logger, metrics *observability.Metrics) *Janitor {
	if config.RetentionDays <= 0 {
		config.RetentionDays = DefaultRetentionDays
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	return &Janitor{
		deliveries: deliveries,
		uploader:   uploader,
		config:     config,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// RunResult summarizes one retention pass.
type RunResult struct {
	Archived int64
	Deleted  int64
	Batches  int
	Cutoff   time.Time
}

// Run performs one retention pass, draining archivable batches until none
// remain before the cutoff. It only ever touches terminal deliveries:
// FetchArchivable excludes pending and retrying rows, and every id handed
// to DeleteByIDs came out of the batch that was just archived.
func (j *Janitor) Run(ctx context.Context) (*RunResult, error) {
	runAt := j.now().UTC()
	cutoff := runAt.AddDate(0, 0, -j.config.RetentionDays)
	result := &RunResult{Cutoff: cutoff}

	j.logger.WithFields(map[string]interface{}{
		"cutoff":         cutoff.Format(time.RFC3339),
		"retention_days": j.config.RetentionDays,
		"archiving":      j.uploader != nil,
	}).Info("Retention pass starting")

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		events, err := j.deliveries.FetchArchivable(ctx, cutoff, j.config.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to fetch archivable deliveries: %w", err)
		}
		if len(events) == 0 {
			break
		}

		if j.uploader != nil {
			key := objectKey(runAt, result.Batches)
			if err := j.uploadBatch(ctx, key, events); err != nil {
				return result, err
			}
			result.Archived += int64(len(events))
			if j.metrics != nil {
				j.metrics.ArchivedEventsTotal.Add(float64(len(events)))
			}
		}

		ids := make([]string, len(events))
		for i, event := range events {
			ids[i] = event.ID
		}
		deleted, err := j.deliveries.DeleteByIDs(ctx, ids)
		if err != nil {
			return result, fmt.Errorf("failed to delete expired deliveries: %w", err)
		}
		result.Deleted += deleted
		result.Batches++

		if len(events) < j.config.BatchSize {
			break
		}
	}

	j.logger.WithFields(map[string]interface{}{
		"archived": result.Archived,
		"deleted":  result.Deleted,
		"batches":  result.Batches,
	}).Info("Retention pass complete")

	return result, nil
}

// uploadBatch writes one NDJSON object, one delivery event per line.
func (j *Janitor) uploadBatch(ctx context.Context, key string, events []*webhooks.DeliveryEvent) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to encode delivery %s: %w", event.ID, err)
		}
	}

	if err := j.uploader.PutObject(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("failed to archive batch to %s: %w", key, err)
	}

	j.logger.WithFields(map[string]interface{}{
		"key":    key,
		"events": len(events),
	}).Debug("Archived delivery batch")

	return nil
}

// objectKey shards archive objects by run date so bucket listings stay
// navigable: deliveries/2026/08/23/deliveries-20260823T031705Z-0001.ndjson.
func objectKey(runAt time.Time, batch int) string {
	return fmt.Sprintf("deliveries/%s/deliveries-%s-%04d.ndjson",
		runAt.Format("2006/01/02"),
		runAt.Format("20060102T150405Z"),
		batch,
	)
}
