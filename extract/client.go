/*
Package extract downloads store-performance exports from the analytics
service.

PROTOCOL:
  The service exposes one query endpoint and produces exports
  asynchronously:

    1. POST query              -> {"data":[{"task_id": ...}]}
    2. wait SettleDelay
    3. POST query + task_id    -> {"data":[{"url": "..."}]}
    4. GET url                 -> spreadsheet bytes

  The service offers no readiness signal, so step 2 is a fixed delay rather
  than a poll. No step is retried; a new Extract call creates a new task.

FAILURES:
  Every failure is an *etl.ExtractionError naming the step and a reason:
  no_task_id, no_url, download_failed, request_failed or bad_response.
*/
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/geekane/1127jixiao/etl"
	"go.uber.org/zap"
)

// DefaultIndicators is the indicator set requested for every export.
var DefaultIndicators = []string{
	"enter_poi_uv_cnt", "visit_deal_uv_convert_rate", "pay_intention_gmv_1d",
	"verify_amount_1d", "verify_user_cnt_1d", "verify_cert_cnt_1d",
	"verify_new_user_cnt_1d", "verify_old_user_cnt_1d", "poi_score",
	"manage_score", "positive_rate_cnt_1d", "normal_negative_rate",
	"consumption_rate_cnt_1d", "enter_poi_avg_cnt", "click_poi_project_card_cnt_1d",
	"click_poi_project_card_uv_cnt_1d", "pay_user_cnt_1d", "pay_cert_cnt_1d",
	"visit_deal_convert_rate", "enter_poi_cnt", "video_cnt_1d", "video_play_cnt_1d",
	"convert_label", "pay_gmv", "refund_amount", "refund_cert_cnt", "refund_user_cnt",
	"new_rate_cnt_1d", "reply_rate_ratio", "bad_comment_ratio", "cs_ticket_ratio",
	"account_refund_order_ratio", "visible_checkin_cnt_1d", "visible_checkin_item_cnt_1d",
	"favorite_cnt_1d", "pay_intention_cert_cnt_1d", "pay_intention_user_cnt_1d",
	"refund_intention_gmv", "refund_intention_cert_cnt", "refund_intention_user_cnt",
	"rank_text",
}

const overviewPath = "/store/my/chain/poi/overview"

// Config configures a Client.
type Config struct {
	APIURL          string
	Cookie          string
	AccountID       string
	SettleDelay     time.Duration
	HTTPTimeout     time.Duration
	DownloadTimeout time.Duration
	MaxExportBytes  int64    // download size cap, defaults to DefaultMaxExportBytes
	Indicators      []string // defaults to DefaultIndicators
}

// DefaultMaxExportBytes caps a downloaded export at 64 MiB.
const DefaultMaxExportBytes = 64 << 20

// ErrExportTooLarge is wrapped when a download exceeds MaxExportBytes.
var ErrExportTooLarge = errors.New("export exceeds size limit")

// Client runs the export protocol. It implements etl.Extractor.
type Client struct {
	cfg      Config
	api      *http.Client
	download *http.Client
	log      *zap.Logger
}

// New creates a Client.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	if cfg.MaxExportBytes <= 0 {
		cfg.MaxExportBytes = DefaultMaxExportBytes
	}
	if len(cfg.Indicators) == 0 {
		cfg.Indicators = DefaultIndicators
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		api:      &http.Client{Timeout: cfg.HTTPTimeout},
		download: &http.Client{Timeout: cfg.DownloadTimeout},
		log:      log,
	}
}

// Extract exports the inclusive range [startDate, endDate] and returns the
// raw spreadsheet bytes.
func (c *Client) Extract(ctx context.Context, startDate, endDate string) ([]byte, error) {
	log := c.log.With(zap.String("start", startDate), zap.String("end", endDate))
	req := c.newQuery(startDate, endDate)

	log.Info("submitting export task")
	submitted, err := c.query(ctx, etl.StepSubmit, req)
	if err != nil {
		return nil, err
	}
	taskID := submitted.first().TaskID
	if isEmptyTaskID(taskID) {
		return nil, &etl.ExtractionError{Step: etl.StepSubmit, Reason: etl.ReasonNoTaskID}
	}
	log.Info("export task created", zap.Any("task_id", taskID))

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for export task: %w", ctx.Err())
	case <-time.After(c.cfg.SettleDelay):
	}

	req.BizParams.ModuleParams.AllPoiList.TaskID = taskID
	retrieved, err := c.query(ctx, etl.StepRetrieve, req)
	if err != nil {
		return nil, err
	}
	url := retrieved.first().URL
	if url == "" {
		return nil, &etl.ExtractionError{Step: etl.StepRetrieve, Reason: etl.ReasonNoURL}
	}
	log.Info("export ready", zap.String("url", url))

	data, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	log.Info("export downloaded", zap.Int("bytes", len(data)))
	return data, nil
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

type queryRequest struct {
	BizParams bizParams `json:"biz_params"`
}

type bizParams struct {
	Path         string       `json:"path"`
	FirstRender  bool         `json:"first_render"`
	CommonParams commonParams `json:"common_params"`
	ModuleParams moduleParams `json:"module_params"`
}

type commonParams struct {
	EndDate   string `json:"end_date"`
	DateType  string `json:"date_type"`
	StartDate string `json:"start_date"`
}

type moduleParams struct {
	AllPoiList poiList `json:"AllPoiList"`
}

type poiList struct {
	PoiID      []string       `json:"poi_id"`
	BrandID    []string       `json:"brand_id"`
	PoiType    []string       `json:"poi_type"`
	PoiSizer   map[string]any `json:"poi_sizer"`
	Indicators []string       `json:"indicators"`
	Download   int            `json:"download"`
	TaskID     any            `json:"task_id,omitempty"`
}

type queryResponse struct {
	Data []queryResult `json:"data"`
}

type queryResult struct {
	TaskID any    `json:"task_id"`
	URL    string `json:"url"`
}

func (r queryResponse) first() queryResult {
	if len(r.Data) == 0 {
		return queryResult{}
	}
	return r.Data[0]
}

func (c *Client) newQuery(startDate, endDate string) queryRequest {
	return queryRequest{BizParams: bizParams{
		Path: overviewPath,
		CommonParams: commonParams{
			StartDate: startDate,
			EndDate:   endDate,
			DateType:  "custom",
		},
		ModuleParams: moduleParams{AllPoiList: poiList{
			PoiID:      []string{},
			BrandID:    []string{},
			PoiType:    []string{},
			PoiSizer:   map[string]any{},
			Indicators: c.cfg.Indicators,
			Download:   1,
		}},
	}}
}

// isEmptyTaskID treats absent, null and blank ids as missing. Ids are kept
// in whatever JSON type the service used and echoed back unchanged.
func isEmptyTaskID(id any) bool {
	switch v := id.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case json.Number:
		return v.String() == ""
	}
	return false
}

// =============================================================================
// HTTP
// =============================================================================

func (c *Client) query(ctx context.Context, step string, q queryRequest) (queryResponse, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return queryResponse{}, fmt.Errorf("encode export query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return queryResponse{}, &etl.ExtractionError{Step: step, Reason: etl.ReasonRequestFailed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}
	if c.cfg.AccountID != "" {
		req.Header.Set("Life-Account-Id", c.cfg.AccountID)
		req.Header.Set("Root-Life-Account-Id", c.cfg.AccountID)
		req.Header.Set("Related-Account-Id", "0")
	}

	resp, err := c.api.Do(req)
	if err != nil {
		return queryResponse{}, &etl.ExtractionError{Step: step, Reason: etl.ReasonRequestFailed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return queryResponse{}, &etl.ExtractionError{Step: step, Reason: etl.ReasonRequestFailed, Status: resp.StatusCode}
	}

	var out queryResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return queryResponse{}, &etl.ExtractionError{Step: step, Reason: etl.ReasonBadResponse, Err: err}
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &etl.ExtractionError{Step: etl.StepDownload, Reason: etl.ReasonDownloadFailed, Err: err}
	}
	resp, err := c.download.Do(req)
	if err != nil {
		return nil, &etl.ExtractionError{Step: etl.StepDownload, Reason: etl.ReasonDownloadFailed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &etl.ExtractionError{Step: etl.StepDownload, Reason: etl.ReasonDownloadFailed, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxExportBytes+1))
	if err != nil {
		return nil, &etl.ExtractionError{Step: etl.StepDownload, Reason: etl.ReasonDownloadFailed, Err: err}
	}
	if int64(len(data)) > c.cfg.MaxExportBytes {
		return nil, &etl.ExtractionError{
			Step:   etl.StepDownload,
			Reason: etl.ReasonDownloadFailed,
			Err:    fmt.Errorf("%w: more than %d bytes", ErrExportTooLarge, c.cfg.MaxExportBytes),
		}
	}
	return data, nil
}
