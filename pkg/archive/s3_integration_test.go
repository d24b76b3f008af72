//go:build integration

package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/webhooks"
)

// setupMinIO starts a MinIO container and returns an S3Client backed by it.
func setupMinIO(t *testing.T) *S3Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start MinIO container")
	t.Cleanup(func() {
		if err := minioContainer.Terminate(context.Background()); err != nil {
			t.Logf("warning: failed to terminate MinIO container: %v", err)
		}
	})

	host, err := minioContainer.Host(ctx)
	require.NoError(t, err)
	port, err := minioContainer.MappedPort(ctx, "9000")
	require.NoError(t, err)

	client, err := NewS3Client(Config{
		Endpoint:  "http://" + host + ":" + port.Port(),
		Region:    "us-east-1",
		Bucket:    "dispatch-archive-test",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		PathStyle: true,
	})
	require.NoError(t, err, "failed to create S3 client")

	return client
}

func TestIntegration_S3Client_ObjectLifecycle(t *testing.T) {
	client := setupMinIO(t)
	ctx := context.Background()

	const key = "deliveries/2026/08/23/lifecycle-test.ndjson"
	content := "{\"id\":\"evt-1\"}\n{\"id\":\"evt-2\"}\n"

	require.NoError(t, client.PutObject(ctx, key, strings.NewReader(content), "application/x-ndjson"))

	t.Run("round trips content", func(t *testing.T) {
		reader, err := client.GetObject(ctx, key)
		require.NoError(t, err)
		defer reader.Close()

		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("existence checks", func(t *testing.T) {
		exists, err := client.ObjectExists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = client.ObjectExists(ctx, "deliveries/does-not-exist.ndjson")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("missing object read fails", func(t *testing.T) {
		_, err := client.GetObject(ctx, "deliveries/does-not-exist.ndjson")
		assert.Error(t, err)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, client.DeleteObject(ctx, key))

		exists, err := client.ObjectExists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		assert.NoError(t, client.DeleteObject(ctx, key))
	})
}

func TestIntegration_S3Client_HealthCheck(t *testing.T) {
	client := setupMinIO(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, client.HealthCheck(ctx))
}

// TestIntegration_Janitor_EndToEnd runs a retention pass against real object
// storage and reads the archive back.
func TestIntegration_Janitor_EndToEnd(t *testing.T) {
	client := setupMinIO(t)
	ctx := context.Background()

	store := webhooks.NewMemoryStore().Deliveries()
	runAt := time.Date(2026, 8, 23, 3, 17, 5, 0, time.UTC)
	old := runAt.AddDate(0, 0, -45)

	for i, id := range []string{"evt-1", "evt-2", "evt-3"} {
		completedAt := old.Add(time.Duration(i) * time.Minute)
		event := &webhooks.DeliveryEvent{
			ID:             id,
			SubscriptionID: "sub-1",
			EventType:      webhooks.EventExportCompleted,
			EntityID:       "export-1",
			Payload:        map[string]interface{}{"export_id": "export-1"},
			Status:         webhooks.DeliveryStatusSuccess,
			AttemptCount:   1,
			MaxAttempts:    3,
			CreatedAt:      completedAt.Add(-time.Minute),
			CompletedAt:    &completedAt,
		}
		require.NoError(t, store.CreateBatch(ctx, []*webhooks.DeliveryEvent{event}))
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	janitor := NewJanitor(store, client, JanitorConfig{RetentionDays: 30, BatchSize: 100}, logger, nil)
	janitor.now = func() time.Time { return runAt }

	result, err := janitor.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Archived)
	assert.Equal(t, int64(3), result.Deleted)

	key := objectKey(runAt, 0)
	reader, err := client.GetObject(ctx, key)
	require.NoError(t, err)
	defer reader.Close()

	var ids []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		ids = append(ids, record["id"].(string))
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"evt-1", "evt-2", "evt-3"}, ids)

	remaining, err := store.FetchArchivable(ctx, runAt, 100)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
