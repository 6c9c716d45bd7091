package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monit-agro/monit-agro/internal/ingest"
	"github.com/monit-agro/monit-agro/internal/model"
	"github.com/monit-agro/monit-agro/internal/store"
)

type testBackend struct {
	store *store.Store
	srv   *httptest.Server
}

func newTestBackend(t *testing.T, token, defaultFarm string) *testBackend {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.SeedFarms(context.Background(), []model.Farm{
		{Slug: "farm-a", Name: "Finca A"},
		{Slug: "farm-b", Name: "Finca B"},
	}))

	ing := &ingest.Ingestor{
		Normalizer:       ingest.NewNormalizer([]ingest.LabelRule{{Marker: "b", FarmID: "farm-b"}}, defaultFarm),
		Registry:         st,
		Readings:         st,
		DefaultDeviceKey: "esp32-a",
	}

	srv := httptest.NewServer(NewServer(st, ing, nil, token, defaultFarm).Routes())
	t.Cleanup(srv.Close)
	return &testBackend{store: st, srv: srv}
}

func (b *testBackend) post(t *testing.T, path, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.srv.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestPushReportLabelRouting(t *testing.T) {
	b := newTestBackend(t, "", "farm-a")

	resp := b.post(t, "/reports", `{"finca":"Finca B","temperatura":28.1,"humedad_suelo":33}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	reading := decodeJSON[model.Reading](t, resp)
	assert.Equal(t, "farm-b", reading.FarmID)
	require.NotNil(t, reading.AirTemp)
	assert.InDelta(t, 28.1, *reading.AirTemp, 0.001)
	require.NotNil(t, reading.SoilMoisture)
	assert.InDelta(t, 33.0, *reading.SoilMoisture, 0.001)
	require.NotNil(t, reading.DeviceID)

	devs, err := b.store.ListDevices(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "esp32-a", devs[0].NetworkKey, "push without deviceId registers the default device")
}

func TestPushReportSharedToken(t *testing.T) {
	b := newTestBackend(t, "secret", "farm-a")
	body := `{"temperatura":25.0}`

	t.Run("missing token is rejected without side effects", func(t *testing.T) {
		resp := b.post(t, "/reports", body, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		readings, err := b.store.ListReadings(context.Background(), "", 0, false)
		require.NoError(t, err)
		assert.Empty(t, readings)
	})

	t.Run("matching token is accepted", func(t *testing.T) {
		resp := b.post(t, "/reports", body, map[string]string{"X-Shared-Token": "secret"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})
}

func TestPushReportValidation(t *testing.T) {
	// no default farm configured, so an unroutable body cannot be stored
	b := newTestBackend(t, "", "")

	t.Run("unroutable payload", func(t *testing.T) {
		resp := b.post(t, "/reports", `{"foo":1}`, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		out := decodeJSON[map[string]any](t, resp)
		assert.Equal(t, "invalid payload", out["error"])
		assert.NotEmpty(t, out["issues"])
	})

	t.Run("malformed JSON", func(t *testing.T) {
		resp := b.post(t, "/reports", `{"foo":`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	readings, err := b.store.ListReadings(context.Background(), "", 0, false)
	require.NoError(t, err)
	assert.Empty(t, readings, "rejected pushes must not persist anything")

	devs, err := b.store.ListDevices(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, devs, "rejected pushes must not touch the registry")
}

func TestPushReportRepeatsAreDistinctRows(t *testing.T) {
	b := newTestBackend(t, "", "farm-a")
	body := `{"temperatura":25.0,"ts":"2026-03-14T10:00:00Z"}`

	first := decodeJSON[model.Reading](t, b.post(t, "/reports", body, nil))
	second := decodeJSON[model.Reading](t, b.post(t, "/reports", body, nil))
	assert.NotEqual(t, first.ID, second.ID)

	readings, err := b.store.ListReadings(context.Background(), "farm-a", 0, false)
	require.NoError(t, err)
	assert.Len(t, readings, 2)
}

func TestLatestReport(t *testing.T) {
	b := newTestBackend(t, "", "farm-a")

	t.Run("null before any data", func(t *testing.T) {
		resp, err := http.Get(b.srv.URL + "/reports/latest")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out *model.Reading
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Nil(t, out)
	})

	b.post(t, "/reports", `{"temperatura":20.0,"ts":"2026-03-14T10:00:00Z"}`, nil)
	b.post(t, "/reports", `{"temperatura":22.0,"ts":"2026-03-14T10:05:00Z"}`, nil)

	t.Run("newest reading for the default farm", func(t *testing.T) {
		resp, err := http.Get(b.srv.URL + "/reports/latest")
		require.NoError(t, err)
		defer resp.Body.Close()

		reading := decodeJSON[model.Reading](t, resp)
		require.NotNil(t, reading.AirTemp)
		assert.InDelta(t, 22.0, *reading.AirTemp, 0.001)
	})
}

func TestListReports(t *testing.T) {
	b := newTestBackend(t, "", "farm-a")
	b.post(t, "/reports", `{"temperatura":20.0,"ts":"2026-03-14T10:00:00Z"}`, nil)
	b.post(t, "/reports", `{"finca":"Finca B","temperatura":30.0,"ts":"2026-03-14T10:01:00Z"}`, nil)

	resp, err := http.Get(b.srv.URL + "/reports?farmId=farm-b")
	require.NoError(t, err)
	defer resp.Body.Close()

	readings := decodeJSON[[]model.Reading](t, resp)
	require.Len(t, readings, 1)
	assert.Equal(t, "farm-b", readings[0].FarmID)
}

func TestTasksEndpoints(t *testing.T) {
	b := newTestBackend(t, "", "farm-a")

	resp := b.post(t, "/tasks", `{"type":"fertilizacion","cost":80,"notes":"lote norte"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	task := decodeJSON[model.Task](t, resp)
	assert.Equal(t, "farm-a", task.FarmID, "farm defaults when omitted")
	assert.Equal(t, "fertilizacion", task.Type)

	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/tasks/%s", b.srv.URL, task.ID),
		bytes.NewBufferString(`{"cost":95}`))
	require.NoError(t, err)
	upResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer upResp.Body.Close()
	require.Equal(t, http.StatusOK, upResp.StatusCode)
	updated := decodeJSON[model.Task](t, upResp)
	assert.Equal(t, 95.0, updated.Cost)

	delReq, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/tasks/%s", b.srv.URL, task.ID), nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(delReq)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	missReq, err := http.NewRequest(http.MethodPut, b.srv.URL+"/tasks/nope", bytes.NewBufferString(`{"cost":1}`))
	require.NoError(t, err)
	missResp, err := http.DefaultClient.Do(missReq)
	require.NoError(t, err)
	missResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, missResp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	b := newTestBackend(t, "", "farm-a")

	resp, err := http.Get(b.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(b.srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON[map[string]bool](t, resp)
	assert.True(t, out["ready"])
}
