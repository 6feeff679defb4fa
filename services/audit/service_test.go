package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/models"
)

func TestServiceLifecycle(t *testing.T) {
	t.Run("start twice fails", func(t *testing.T) {
		repo := &captureRepo{}
		svc := startedSink(t, repo)
		assert.Error(t, svc.Start())
		require.NoError(t, svc.Stop(time.Second))
	})

	t.Run("stop drains pending entries", func(t *testing.T) {
		repo := &captureRepo{}
		svc := startedSink(t, repo)

		for i := 0; i < 8; i++ {
			event := &Event{Log: models.NewAuditLog("Authorize", time.Now().UTC())}
			require.NoError(t, svc.LogEventBlocking(context.Background(), event))
		}
		require.NoError(t, svc.Stop(time.Second))

		assert.Len(t, repo.logs, 8)
		assert.False(t, svc.GetStats().Started)
	})

	t.Run("queueing after stop errors instead of panicking", func(t *testing.T) {
		repo := &captureRepo{}
		svc := startedSink(t, repo)
		require.NoError(t, svc.Stop(time.Second))

		event := &Event{Log: models.NewAuditLog("Authorize", time.Now().UTC())}
		assert.NotPanics(t, func() {
			err := svc.LogEventBlocking(context.Background(), event)
			assert.Error(t, err)
		})
	})

	t.Run("queueing before start errors", func(t *testing.T) {
		svc := NewService(&captureRepo{}, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
		event := &Event{Log: models.NewAuditLog("Authorize", time.Now().UTC())}
		assert.Error(t, svc.LogEventBlocking(context.Background(), event))
	})
}
