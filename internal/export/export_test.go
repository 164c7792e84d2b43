package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/store"
	"wisefido-actigraphy/internal/store/storetest"
)

type fakeExporter struct {
	name  string
	err   error
	calls int
}

func (f *fakeExporter) Name() string { return f.name }

func (f *fakeExporter) Export(context.Context, *store.PipelineResult) error {
	f.calls++
	return f.err
}

func TestAll_ContinuesAfterFailure(t *testing.T) {
	a := &fakeExporter{name: "a", err: errors.New("disk full")}
	b := &fakeExporter{name: "b"}

	err := All(context.Background(), storetest.Sample(), zap.NewNop(), a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: disk full")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	assert.NoError(t, All(context.Background(), storetest.Sample(), zap.NewNop(), b))
}

func TestSummarize(t *testing.T) {
	s := Summarize(storetest.Sample())
	assert.Equal(t, storetest.RunID, s.RunID)
	require.Len(t, s.Subjects, 1)
	assert.Equal(t, 2, s.Subjects[0].Windows)
	assert.Equal(t, 1, s.Subjects[0].ValidWindows)
	assert.Equal(t, 1, s.Subjects[0].Counts[models.QualityComputed])
	assert.Equal(t, 0, s.Subjects[0].Counts[models.QualitySkippedDependency])
}

func TestRedisStreamExporter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	e := NewRedisStreamExporter(client, "actigraphy:metrics:stream", 0)
	e.batchSize = 2
	require.NoError(t, e.Export(context.Background(), storetest.Sample()))

	msgs, err := client.XRange(context.Background(), "actigraphy:metrics:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	for _, m := range msgs[:3] {
		assert.Equal(t, messageMetric, m.Values["type"])
		assert.Equal(t, storetest.RunID, m.Values["run_id"])
	}
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &rec))
	assert.Equal(t, "gait_steps", rec["metric"])
	assert.Nil(t, rec["value"])

	require.NoError(t, json.Unmarshal([]byte(msgs[1].Values["data"].(string)), &rec))
	assert.Equal(t, 412.5, rec["value"])

	assert.Equal(t, messageRun, msgs[3].Values["type"])
	var summary RunSummary
	require.NoError(t, json.Unmarshal([]byte(msgs[3].Values["data"].(string)), &summary))
	assert.Equal(t, 1, summary.Counts[models.QualityExcluded])
}

func TestRedisStreamExporter_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedisStreamExporter(client, "s", 100).Export(context.Background(), storetest.Sample())
	assert.Error(t, err)
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, retained, payload})
	return nil
}

func TestMQTTExporter(t *testing.T) {
	p := &fakePublisher{}
	e := NewMQTTExporter(p, "actigraphy", 1)
	require.NoError(t, e.Export(context.Background(), storetest.Sample()))

	require.Len(t, p.msgs, 2)
	assert.Equal(t, "actigraphy/subjects/s1/metrics", p.msgs[0].topic)
	assert.False(t, p.msgs[0].retained)
	assert.Equal(t, "actigraphy/runs/latest", p.msgs[1].topic)
	assert.True(t, p.msgs[1].retained)

	var msg struct {
		SubjectID string            `json:"subject_id"`
		Windows   []json.RawMessage `json:"windows"`
		Records   []json.RawMessage `json:"records"`
	}
	require.NoError(t, json.Unmarshal(p.msgs[0].payload, &msg))
	assert.Equal(t, "s1", msg.SubjectID)
	assert.Len(t, msg.Windows, 2)
	assert.Len(t, msg.Records, 3)

	p = &fakePublisher{err: errors.New("not connected")}
	assert.Error(t, NewMQTTExporter(p, "actigraphy", 1).Export(context.Background(), storetest.Sample()))
}

func TestExcelExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.xlsx")
	require.NoError(t, NewExcelExporter(path).Export(context.Background(), storetest.Sample()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetMetrics, SheetWindows, SheetSummary}, f.GetSheetList())

	rows, err := f.GetRows(SheetMetrics)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, store.TableHeader, rows[0])
	assert.Equal(t, "sleep_tst", rows[2][5])
	assert.Equal(t, "412.5", rows[2][6])
	assert.Equal(t, "", rows[1][6])
	assert.Equal(t, "failed", rows[1][9])

	rows, err = f.GetRows(SheetWindows)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "FALSE", rows[2][9])

	rows, err = f.GetRows(SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_id", storetest.RunID}, rows[1])
}

func TestReportClient(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, ReportPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		body, _ := io.ReadAll(r.Body)
		var s RunSummary
		assert.NoError(t, json.Unmarshal(body, &s))
		assert.Equal(t, storetest.RunID, s.RunID)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":0,"msg":"ok"}`))
	}))
	defer server.Close()

	c := NewReportClient(server.URL, zap.NewNop())
	require.NoError(t, c.Export(context.Background(), storetest.Sample()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestReportClient_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Fail") != "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":400,"msg":"bad summary"}`))
			return
		}
		w.Write([]byte(`{"status":7,"msg":"run already reported"}`))
	}))
	defer server.Close()

	c := NewReportClient(server.URL, zap.NewNop())
	c.httpClient.SetRetryCount(0)

	err := c.Export(context.Background(), storetest.Sample())
	assert.ErrorContains(t, err, "run already reported")

	c.httpClient.SetHeader("X-Fail", "1")
	err = c.Export(context.Background(), storetest.Sample())
	assert.ErrorContains(t, err, "HTTP 400")
}

type fakeSaver struct {
	saved *store.PipelineResult
}

func (f *fakeSaver) SaveRun(_ context.Context, r *store.PipelineResult) error {
	f.saved = r
	return nil
}

func TestPostgresExporter(t *testing.T) {
	saver := &fakeSaver{}
	res := storetest.Sample()
	e := NewPostgresExporter(saver)
	assert.Equal(t, "postgres", e.Name())
	require.NoError(t, e.Export(context.Background(), res))
	assert.Same(t, res, saver.saved)
}
