package http_api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
	"github.com/strawberry-labs/berrypay-cli/pkg/logger"
)

// stubProcessor is a canned-response ProcessorI for handler tests.
type stubProcessor struct {
	charges map[string]*models.Charge

	createErr error
	sweepErr  error
	deleteErr error

	lastParams models.CreateChargeParams
	lastSweep  bool
	removed    int
}

func newStubProcessor(charges ...*models.Charge) *stubProcessor {
	p := &stubProcessor{charges: make(map[string]*models.Charge)}
	for _, charge := range charges {
		p.charges[charge.ID] = charge
	}
	return p
}

func (p *stubProcessor) Start(context.Context) error { return nil }
func (p *stubProcessor) Stop()                       {}

func (p *stubProcessor) CreateCharge(_ context.Context, params models.CreateChargeParams) (*models.Charge, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.lastParams = params
	now := time.Now().UTC()
	charge := &models.Charge{
		ID:           "charge-1",
		Address:      "bry_addr_1000",
		AccountIndex: 1000,
		Amount:       params.Amount,
		Received:     big.NewInt(0),
		Status:       models.StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(params.TTL),
		NotifyURL:    params.NotifyURL,
		Metadata:     params.Metadata,
	}
	p.charges[charge.ID] = charge
	return charge, nil
}

func (p *stubProcessor) GetCharge(id string) (*models.Charge, error) {
	charge, ok := p.charges[id]
	if !ok {
		return nil, models.ErrChargeNotFound
	}
	return charge, nil
}

func (p *stubProcessor) ListCharges(statuses ...models.ChargeStatus) []*models.Charge {
	var out []*models.Charge
	for _, charge := range p.charges {
		if len(statuses) == 0 {
			out = append(out, charge)
			continue
		}
		for _, status := range statuses {
			if charge.Status == status {
				out = append(out, charge)
			}
		}
	}
	return out
}

func (p *stubProcessor) CheckStatus(_ context.Context, id string, sweep bool) (*models.ChargeStatusReport, error) {
	charge, err := p.GetCharge(id)
	if err != nil {
		return nil, err
	}
	p.lastSweep = sweep
	return &models.ChargeStatusReport{
		Charge:    charge,
		Balance:   big.NewInt(0),
		Pending:   charge.Received,
		IsPaid:    charge.Received.Cmp(charge.Amount) >= 0,
		Remaining: charge.Remaining(),
	}, nil
}

func (p *stubProcessor) SweepCharge(_ context.Context, id string) (*models.SweepOutcome, error) {
	if p.sweepErr != nil {
		return nil, p.sweepErr
	}
	charge, err := p.GetCharge(id)
	if err != nil {
		return nil, err
	}
	return &models.SweepOutcome{TxHash: "sweep-tx-1", Amount: charge.Received, SweptAt: time.Now().UTC()}, nil
}

func (p *stubProcessor) DeleteCharge(id string) error {
	if p.deleteErr != nil {
		return p.deleteErr
	}
	if _, ok := p.charges[id]; !ok {
		return models.ErrChargeNotFound
	}
	delete(p.charges, id)
	return nil
}

func (p *stubProcessor) CleanupSwept() (int, error) { return p.removed, nil }

func newTestServer(processor models.ProcessorI) *HTTPServer {
	gin.SetMode(gin.TestMode)
	return NewHTTPServer(processor, 0, "BRY", 6, logger.NewNop()).(*HTTPServer)
}

func doRequest(s *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func testCharge() *models.Charge {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Charge{
		ID:           "charge-1",
		Address:      "bry_addr_1000",
		AccountIndex: 1000,
		Amount:       big.NewInt(2500000),
		Received:     big.NewInt(1000000),
		Status:       models.StatusPartial,
		Transactions: []models.ChargeTx{
			{Hash: "tx-1", From: "payer", Amount: big.NewInt(1000000), ReceivedAt: now},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestCreateChargeHandler(t *testing.T) {
	processor := newStubProcessor()
	server := newTestServer(processor)

	rec := doRequest(server, http.MethodPost, "/api/v1/charges",
		`{"amount":"2500000","ttl_seconds":900,"notify_url":"https://example.com/hook","metadata":{"order":"42"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ChargeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "charge-1", resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "2500000", resp.Amount)
	assert.Equal(t, "2.5", resp.AmountDisplay)
	assert.Equal(t, "BRY", resp.Currency)
	assert.JSONEq(t, `{"order":"42"}`, string(resp.Metadata))

	assert.Equal(t, 15*time.Minute, processor.lastParams.TTL)
	assert.Equal(t, "https://example.com/hook", processor.lastParams.NotifyURL)
}

func TestCreateChargeDisplayAmount(t *testing.T) {
	processor := newStubProcessor()
	server := newTestServer(processor)

	rec := doRequest(server, http.MethodPost, "/api/v1/charges", `{"amount_display":"2.5"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Zero(t, processor.lastParams.Amount.Cmp(big.NewInt(2500000)))
}

func TestCreateChargeRejectsBadAmounts(t *testing.T) {
	server := newTestServer(newStubProcessor())

	for name, body := range map[string]string{
		"no amount":         `{}`,
		"both amounts":      `{"amount":"100","amount_display":"1"}`,
		"non numeric":       `{"amount":"abc"}`,
		"negative":          `{"amount":"-5"}`,
		"fractional raw":    `{"amount":"1.5"}`,
		"too many decimals": `{"amount_display":"0.0000001"}`,
	} {
		rec := doRequest(server, http.MethodPost, "/api/v1/charges", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestGetChargeHandler(t *testing.T) {
	server := newTestServer(newStubProcessor(testCharge()))

	rec := doRequest(server, http.MethodGet, "/api/v1/charges/charge-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChargeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "partial", resp.Status)
	assert.Equal(t, "1000000", resp.Received)
	assert.Equal(t, "1500000", resp.Remaining)
	assert.Equal(t, "1.5", resp.RemainingDisplay)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "tx-1", resp.Transactions[0].Hash)

	rec = doRequest(server, http.MethodGet, "/api/v1/charges/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListChargesHandler(t *testing.T) {
	server := newTestServer(newStubProcessor(testCharge()))

	rec := doRequest(server, http.MethodGet, "/api/v1/charges", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Charges []ChargeResponse `json:"charges"`
		Count   int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	rec = doRequest(server, http.MethodGet, "/api/v1/charges?status=swept", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)

	rec = doRequest(server, http.MethodGet, "/api/v1/charges?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChargeStatusHandler(t *testing.T) {
	processor := newStubProcessor(testCharge())
	server := newTestServer(processor)

	rec := doRequest(server, http.MethodGet, "/api/v1/charges/charge-1/status?sweep=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, processor.lastSweep)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsPaid)
	assert.Equal(t, "1500000", resp.Remaining)
	assert.Equal(t, "1000000", resp.Pending)

	rec = doRequest(server, http.MethodGet, "/api/v1/charges/missing/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSweepChargeHandler(t *testing.T) {
	processor := newStubProcessor(testCharge())
	server := newTestServer(processor)

	rec := doRequest(server, http.MethodPost, "/api/v1/charges/charge-1/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sweep-tx-1", resp["tx_hash"])
	assert.Equal(t, "1000000", resp["amount"])

	processor.sweepErr = models.ErrNothingToSweep
	rec = doRequest(server, http.MethodPost, "/api/v1/charges/charge-1/sweep", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	processor.sweepErr = models.ErrChargeActive
	rec = doRequest(server, http.MethodPost, "/api/v1/charges/charge-1/sweep", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	processor.sweepErr = models.ErrChargeNotFound
	rec = doRequest(server, http.MethodPost, "/api/v1/charges/missing/sweep", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteChargeHandler(t *testing.T) {
	processor := newStubProcessor(testCharge())
	server := newTestServer(processor)

	processor.deleteErr = models.ErrChargeNotDeletable
	rec := doRequest(server, http.MethodDelete, "/api/v1/charges/charge-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	processor.deleteErr = nil
	rec = doRequest(server, http.MethodDelete, "/api/v1/charges/charge-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(server, http.MethodDelete, "/api/v1/charges/charge-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupHandler(t *testing.T) {
	processor := newStubProcessor()
	processor.removed = 3
	server := newTestServer(processor)

	rec := doRequest(server, http.MethodPost, "/api/v1/maintenance/cleanup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 3, resp["removed"])
}

func TestHealthHandler(t *testing.T) {
	server := newTestServer(newStubProcessor())
	rec := doRequest(server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
