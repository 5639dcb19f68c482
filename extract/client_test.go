package extract_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/geekane/1127jixiao/etl"
	"github.com/geekane/1127jixiao/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService imitates the analytics service. Fields select failure modes.
type fakeService struct {
	mu         sync.Mutex
	queries    []map[string]any
	headers    []http.Header
	submitBody string // overrides the submit response
	retrieve   string // overrides the retrieve response
	submitCode int
	fileCode   int
	file       []byte
}

func (f *fakeService) handler(t *testing.T, baseURL func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dito/query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			t.Errorf("decode query: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.queries = append(f.queries, body)
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()

		list := body["biz_params"].(map[string]any)["module_params"].(map[string]any)["AllPoiList"].(map[string]any)
		if _, ok := list["task_id"]; !ok {
			if f.submitCode != 0 {
				w.WriteHeader(f.submitCode)
				return
			}
			if f.submitBody != "" {
				_, _ = w.Write([]byte(f.submitBody))
				return
			}
			_, _ = w.Write([]byte(`{"data":[{"task_id":7390112233445566778}]}`))
			return
		}
		if f.retrieve != "" {
			_, _ = w.Write([]byte(f.retrieve))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": baseURL() + "/download/export.xlsx"}},
		})
	})
	mux.HandleFunc("/download/export.xlsx", func(w http.ResponseWriter, r *http.Request) {
		if f.fileCode != 0 {
			w.WriteHeader(f.fileCode)
			return
		}
		_, _ = w.Write(f.file)
	})
	return mux
}

func newClient(t *testing.T, svc *fakeService) *extract.Client {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(svc.handler(t, func() string { return srv.URL }))
	t.Cleanup(srv.Close)

	return extract.New(extract.Config{
		APIURL:      srv.URL + "/api/dito/query",
		Cookie:      "sessionid=abc",
		AccountID:   "42",
		SettleDelay: time.Millisecond,
	}, nil)
}

func extractionErr(t *testing.T, err error) *etl.ExtractionError {
	t.Helper()
	var ee *etl.ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.True(t, etl.IsExtraction(err))
	return ee
}

func TestExtract_FullProtocol(t *testing.T) {
	// GIVEN: a service that creates a task, then serves a download url
	// WHEN: extracting a date range
	// THEN: the file bytes come back and the task id is echoed unchanged

	svc := &fakeService{file: []byte("xlsx-bytes")}
	client := newClient(t, svc)

	data, err := client.Extract(context.Background(), "2025-09-01", "2025-09-30")
	require.NoError(t, err)
	assert.Equal(t, []byte("xlsx-bytes"), data)

	require.Len(t, svc.queries, 2)
	common := svc.queries[0]["biz_params"].(map[string]any)["common_params"].(map[string]any)
	assert.Equal(t, "2025-09-01", common["start_date"])
	assert.Equal(t, "2025-09-30", common["end_date"])
	assert.Equal(t, "custom", common["date_type"])

	list := svc.queries[1]["biz_params"].(map[string]any)["module_params"].(map[string]any)["AllPoiList"].(map[string]any)
	assert.Equal(t, json.Number("7390112233445566778"), list["task_id"])
	assert.Len(t, list["indicators"], len(extract.DefaultIndicators))

	assert.Equal(t, "sessionid=abc", svc.headers[0].Get("Cookie"))
	assert.Equal(t, "42", svc.headers[0].Get("Life-Account-Id"))
}

func TestExtract_NoTaskID(t *testing.T) {
	for name, body := range map[string]string{
		"empty data":   `{"data":[]}`,
		"null task id": `{"data":[{"task_id":null}]}`,
		"blank id":     `{"data":[{"task_id":""}]}`,
		"no data":      `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			client := newClient(t, &fakeService{submitBody: body})

			_, err := client.Extract(context.Background(), "2025-09-01", "2025-09-30")

			ee := extractionErr(t, err)
			assert.Equal(t, etl.ReasonNoTaskID, ee.Reason)
			assert.Equal(t, etl.StepSubmit, ee.Step)
		})
	}
}

func TestExtract_StringTaskID(t *testing.T) {
	svc := &fakeService{submitBody: `{"data":[{"task_id":"abc-1"}]}`, file: []byte("ok")}
	client := newClient(t, svc)

	_, err := client.Extract(context.Background(), "2025-09-30", "2025-09-30")
	require.NoError(t, err)

	list := svc.queries[1]["biz_params"].(map[string]any)["module_params"].(map[string]any)["AllPoiList"].(map[string]any)
	assert.Equal(t, "abc-1", list["task_id"])
}

func TestExtract_NoURL(t *testing.T) {
	client := newClient(t, &fakeService{retrieve: `{"data":[{"status":"pending"}]}`})

	_, err := client.Extract(context.Background(), "2025-09-01", "2025-09-30")

	ee := extractionErr(t, err)
	assert.Equal(t, etl.ReasonNoURL, ee.Reason)
	assert.Equal(t, etl.StepRetrieve, ee.Step)
}

func TestExtract_DownloadFailed(t *testing.T) {
	client := newClient(t, &fakeService{fileCode: http.StatusForbidden})

	_, err := client.Extract(context.Background(), "2025-09-01", "2025-09-30")

	ee := extractionErr(t, err)
	assert.Equal(t, etl.ReasonDownloadFailed, ee.Reason)
	assert.Equal(t, http.StatusForbidden, ee.Status)
}

func TestExtract_DownloadOverSizeLimit(t *testing.T) {
	// GIVEN: an export larger than the configured cap
	// WHEN: extracting
	// THEN: the download fails instead of buffering the whole body

	svc := &fakeService{file: make([]byte, 2048)}
	var srv *httptest.Server
	srv = httptest.NewServer(svc.handler(t, func() string { return srv.URL }))
	defer srv.Close()

	client := extract.New(extract.Config{
		APIURL:         srv.URL + "/api/dito/query",
		SettleDelay:    time.Millisecond,
		MaxExportBytes: 1024,
	}, nil)

	_, err := client.Extract(context.Background(), "2025-09-01", "2025-09-30")

	ee := extractionErr(t, err)
	assert.Equal(t, etl.ReasonDownloadFailed, ee.Reason)
	assert.Equal(t, etl.StepDownload, ee.Step)
	assert.ErrorIs(t, err, extract.ErrExportTooLarge)

	svc.file = make([]byte, 1024)
	data, err := client.Extract(context.Background(), "2025-09-01", "2025-09-30")
	require.NoError(t, err)
	assert.Len(t, data, 1024)
}

func TestExtract_SubmitRejected(t *testing.T) {
	client := newClient(t, &fakeService{submitCode: http.StatusUnauthorized})

	_, err := client.Extract(context.Background(), "2025-09-01", "2025-09-30")

	ee := extractionErr(t, err)
	assert.Equal(t, etl.ReasonRequestFailed, ee.Reason)
	assert.Equal(t, http.StatusUnauthorized, ee.Status)
}

func TestExtract_BadJSON(t *testing.T) {
	client := newClient(t, &fakeService{submitBody: `<html>login</html>`})

	_, err := client.Extract(context.Background(), "2025-09-01", "2025-09-30")

	ee := extractionErr(t, err)
	assert.Equal(t, etl.ReasonBadResponse, ee.Reason)
}

func TestExtract_CancelledDuringSettle(t *testing.T) {
	svc := &fakeService{file: []byte("x")}
	var srv *httptest.Server
	srv = httptest.NewServer(svc.handler(t, func() string { return srv.URL }))
	defer srv.Close()

	client := extract.New(extract.Config{
		APIURL:      srv.URL + "/api/dito/query",
		SettleDelay: time.Hour,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Extract(ctx, "2025-09-01", "2025-09-30")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.LessOrEqual(t, len(svc.queries), 1, "retrieve must not run after cancellation")
}
