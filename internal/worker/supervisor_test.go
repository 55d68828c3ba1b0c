package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texttochange/vusion-backend-sub000/internal/messaging"
	"github.com/texttochange/vusion-backend-sub000/internal/models"
	"github.com/texttochange/vusion-backend-sub000/internal/store"
	"github.com/texttochange/vusion-backend-sub000/internal/templates"
)

func testFactory(t *testing.T, broker messaging.Broker, built *int) Factory {
	t.Helper()
	return func(ctx context.Context, name string) (*Worker, error) {
		s := store.NewMemoryTenantStore()
		settings := &models.ProgramSettings{
			Meta:      models.Meta{ObjectType: models.ObjectTypeProgramSettings, ModelVersion: "1"},
			Shortcode: "8282",
			Timezone:  "UTC",
		}
		raw, err := models.ToRaw(settings)
		if err != nil {
			return nil, err
		}
		if _, err := s.ProgramSettings.Save(ctx, raw); err != nil {
			return nil, err
		}
		if built != nil {
			*built++
		}
		return New(Opts{
			Name:      name,
			Store:     s,
			Transport: messaging.NewFakeTransport(),
			Broker:    broker,
			Templates: &templates.StoreLookup{Store: s},
		}), nil
	}
}

func TestSupervisorAddAndRemoveWorker(t *testing.T) {
	broker := messaging.NewInProcBroker()
	defer broker.Close()
	built := 0
	sup := NewSupervisor(testFactory(t, broker, &built), broker, "vusion.control")
	defer sup.StopAll()
	ctx := context.Background()

	require.Error(t, sup.AddWorker(ctx, ""), "empty worker name must be rejected")

	require.NoError(t, sup.AddWorker(ctx, "tenant1"))
	first, ok := sup.Worker("tenant1")
	require.True(t, ok)
	assert.Equal(t, []string{"tenant1"}, sup.Names())

	// Adding the same name restarts it with a fresh worker.
	require.NoError(t, sup.AddWorker(ctx, "tenant1"))
	second, ok := sup.Worker("tenant1")
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Len(t, sup.Names(), 1)
	assert.Equal(t, 2, built)

	sup.RemoveWorker("tenant1")
	_, ok = sup.Worker("tenant1")
	assert.False(t, ok)

	// Removing an absent worker is a no-op.
	sup.RemoveWorker("tenant1")
	sup.RemoveWorker("never-existed")
}

func TestSupervisorHandlesControlMessages(t *testing.T) {
	broker := messaging.NewInProcBroker()
	defer broker.Close()
	sup := NewSupervisor(testFactory(t, broker, nil), broker, "vusion.control")
	defer sup.StopAll()
	ctx := context.Background()

	sup.handleControl(ctx, []byte(`{"action":"add_worker","worker-name":"tenant1"}`))
	_, ok := sup.Worker("tenant1")
	assert.True(t, ok)

	sup.handleControl(ctx, []byte(`{"action":"remove_worker","worker-name":"tenant1"}`))
	_, ok = sup.Worker("tenant1")
	assert.False(t, ok)

	// Malformed and unknown commands are dropped without effect.
	sup.handleControl(ctx, []byte(`not json`))
	sup.handleControl(ctx, []byte(`{"action":"explode"}`))
	assert.Empty(t, sup.Names())
}

func TestSupervisorRunConsumesControlTopic(t *testing.T) {
	broker := messaging.NewInProcBroker()
	defer broker.Close()
	sup := NewSupervisor(testFactory(t, broker, nil), broker, "vusion.control")
	defer sup.StopAll()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.NoError(t, broker.Publish(ctx, "vusion.control",
		[]byte(`{"action":"add_worker","worker-name":"tenant1"}`)))
	require.Eventually(t, func() bool {
		_, ok := sup.Worker("tenant1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
