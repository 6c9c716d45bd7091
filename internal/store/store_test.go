package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monit-agro/monit-agro/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	return st
}

func ptr[T any](v T) *T { return &v }

func TestSeedFarmsIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	farms := []model.Farm{
		{Slug: "farm-a", Name: "Finca A"},
		{Slug: "farm-b", Name: "Finca B"},
	}
	require.NoError(t, st.SeedFarms(ctx, farms))
	require.NoError(t, st.SeedFarms(ctx, farms))

	got, err := st.ListFarms(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "farm-a", got[0].ID)
}

func TestUpsertDevice(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	t2 := t0.Add(2 * time.Minute)

	t.Run("first contact creates the row", func(t *testing.T) {
		dev, err := st.UpsertDevice(ctx, "farma", "", "farm-a", t1, "192.168.1.50")
		require.NoError(t, err)
		assert.NotEmpty(t, dev.ID)
		assert.Equal(t, "farma", dev.Name, "name defaults to the network key")
		assert.True(t, dev.Active)
		assert.Equal(t, "192.168.1.50", dev.LastAddr)
		assert.WithinDuration(t, t1, dev.LastSeenAt, time.Second)
	})

	t.Run("stale contact never rolls lastSeenAt back", func(t *testing.T) {
		dev, err := st.UpsertDevice(ctx, "farma", "", "farm-a", t0, "")
		require.NoError(t, err)
		assert.WithinDuration(t, t1, dev.LastSeenAt, time.Second)
	})

	t.Run("empty address leaves the last one in place", func(t *testing.T) {
		dev, err := st.UpsertDevice(ctx, "farma", "", "farm-a", t2, "")
		require.NoError(t, err)
		assert.Equal(t, "192.168.1.50", dev.LastAddr)
		assert.WithinDuration(t, t2, dev.LastSeenAt, time.Second)
	})

	t.Run("later contact advances address and farm", func(t *testing.T) {
		dev, err := st.UpsertDevice(ctx, "farma", "Sensor Norte", "farm-b", t2.Add(time.Minute), "192.168.1.51")
		require.NoError(t, err)
		assert.Equal(t, "Sensor Norte", dev.Name)
		assert.Equal(t, "farm-b", dev.FarmID)
		assert.Equal(t, "192.168.1.51", dev.LastAddr)
	})

	devs, err := st.ListDevices(ctx, true)
	require.NoError(t, err)
	assert.Len(t, devs, 1, "upserts must not duplicate the device row")
}

func TestReadingsAppendOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		// identical content on purpose: repeats are distinct rows
		r := &model.Reading{
			FarmID:       "farm-a",
			TS:           base,
			SoilMoisture: ptr(34.2),
			Provenance:   model.ProvenanceObserved,
		}
		require.NoError(t, st.CreateReading(ctx, r))
		assert.NotEmpty(t, r.ID)
	}

	got, err := st.ListReadings(ctx, "farm-a", 0, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestLatestReading(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	latest, err := st.LatestReading(ctx, "farm-a")
	require.NoError(t, err)
	assert.Nil(t, latest, "farm with no readings yields nil, not an error")

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	older := &model.Reading{FarmID: "farm-a", TS: base, AirTemp: ptr(25.0)}
	newer := &model.Reading{FarmID: "farm-a", TS: base.Add(time.Minute), AirTemp: ptr(26.0)}
	other := &model.Reading{FarmID: "farm-b", TS: base.Add(time.Hour), AirTemp: ptr(30.0)}
	for _, r := range []*model.Reading{newer, older, other} {
		require.NoError(t, st.CreateReading(ctx, r))
	}

	latest, err = st.LatestReading(ctx, "farm-a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.NotNil(t, latest.AirTemp)
	assert.InDelta(t, 26.0, *latest.AirTemp, 0.001)
}

func TestListReadingsOrderAndLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := &model.Reading{FarmID: "farm-a", TS: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, st.CreateReading(ctx, r))
	}

	desc, err := st.ListReadings(ctx, "farm-a", 3, false)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.True(t, desc[0].TS.After(desc[1].TS))

	asc, err := st.ListReadings(ctx, "farm-a", 10, true)
	require.NoError(t, err)
	require.Len(t, asc, 5)
	assert.True(t, asc[0].TS.Before(asc[1].TS))
}

func TestReadingAuxRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	r := &model.Reading{
		FarmID: "farm-a",
		TS:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Aux: model.AuxMap{
			"modo_automatico": true,
			"potencia_bomba":  80.0,
		},
	}
	require.NoError(t, st.CreateReading(ctx, r))

	got, err := st.LatestReading(ctx, "farm-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, true, got.Aux["modo_automatico"])
	assert.Equal(t, 80.0, got.Aux["potencia_bomba"])
}

func TestTasksCRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := &model.Task{FarmID: "farm-a", Type: "riego", Cost: 120, Notes: "riego matutino"}
	require.NoError(t, st.CreateTask(ctx, task))
	require.NotEmpty(t, task.ID)

	task.Cost = 150
	require.NoError(t, st.UpdateTask(ctx, task))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 150.0, got.Cost)

	require.NoError(t, st.DeleteTask(ctx, task.ID))
	assert.Error(t, st.DeleteTask(ctx, task.ID))

	tasks, err := st.ListTasks(ctx, "farm-a")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
