package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grachmannico95/palette-cheque/internal/cheque"
	"github.com/grachmannico95/palette-cheque/internal/config"
	"github.com/grachmannico95/palette-cheque/internal/dispute"
	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/internal/handler"
	"github.com/grachmannico95/palette-cheque/internal/ledger"
	"github.com/grachmannico95/palette-cheque/internal/matching"
	"github.com/grachmannico95/palette-cheque/internal/metrics"
	"github.com/grachmannico95/palette-cheque/internal/registry"
	"github.com/grachmannico95/palette-cheque/internal/server"
	"github.com/grachmannico95/palette-cheque/internal/signature"
	"github.com/grachmannico95/palette-cheque/internal/site"
	"github.com/grachmannico95/palette-cheque/internal/storage"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

var paris = map[string]float64{"latitude": 48.8566, "longitude": 2.3522}

type testEnv struct {
	srv *httptest.Server
	bus eventbus.EventBus
}

func setupTestServer(t *testing.T) *testEnv {
	log := logger.NewNop()
	repo := storage.NewMemoryStore()

	bus := eventbus.New(log, &eventbus.Config{
		ChannelBuffer:  100,
		MaxRetries:     3,
		RetryBaseDelay: 10 * time.Millisecond,
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	signer, err := signature.NewService("integration-seed")
	require.NoError(t, err)

	ledgerStore := ledger.NewStore(repo, log, ledger.WithPublisher(bus), ledger.WithMetrics(m))
	siteService := site.NewService(repo, repo, log)
	matcher := matching.NewMatcher(repo, log, matching.WithMetrics(m))
	cheques := cheque.NewRegistry(repo, repo, ledgerStore, signer, siteService, log,
		cheque.WithMatcher(matcher),
		cheque.WithPublisher(bus),
		cheque.WithMetrics(m),
	)
	resolver := dispute.NewResolver(repo, repo, ledgerStore, siteService, log,
		dispute.WithPublisher(bus),
		dispute.WithMetrics(m),
	)
	mirror := registry.NewMirror(ledgerStore, log)

	err = bus.Subscribe(eventbus.EventTypeStatusChange, registry.NewMovementConsumer(mirror, domain.ScopeEventLog(repo, "registry"), log, 1))
	require.NoError(t, err)
	require.NoError(t, bus.Start(context.Background()))

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
	}

	srv := server.New(cfg, log, server.Handlers{
		Health:   handler.NewHealthHandler(repo),
		Cheque:   handler.NewChequeHandler(cheques, signer, log),
		Ledger:   handler.NewLedgerHandler(ledgerStore, log),
		Site:     handler.NewSiteHandler(siteService, log),
		Dispute:  handler.NewDisputeHandler(resolver, log),
		Matching: handler.NewMatchingHandler(matcher, log),
		Registry: handler.NewRegistryHandler(mirror, log),
	}, reg)

	env := &testEnv{srv: httptest.NewServer(srv.Handler()), bus: bus}
	t.Cleanup(func() {
		env.srv.Close()
		bus.Shutdown(context.Background())
	})
	return env
}

func (e *testEnv) call(t *testing.T, method, path string, body interface{}, wantStatus int) map[string]interface{} {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "%s %s: %s", method, path, raw)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

func (e *testEnv) createSite(t *testing.T, companyID string, strict bool) string {
	t.Helper()
	body := map[string]interface{}{
		"company_id":   companyID,
		"company_name": "Plateforme " + companyID,
		"name":         "Quai " + companyID,
		"location":     paris,
	}
	if strict {
		body["geofence"] = map[string]interface{}{"radius_meters": 100, "strict": true}
	}
	s := e.call(t, http.MethodPost, "/api/v1/palette/sites", body, http.StatusCreated)
	return s["id"].(string)
}

func balanceOf(t *testing.T, e *testEnv, companyID string) float64 {
	t.Helper()
	l := e.call(t, http.MethodGet, "/api/v1/palette/ledger/"+companyID, nil, http.StatusOK)
	return l["total"].(float64)
}

func TestChequeLifecycleWithDispute(t *testing.T) {
	env := setupTestServer(t)
	siteID := env.createSite(t, "site-co", false)

	// Issued without a target: the matcher picks the only site nearby.
	c := env.call(t, http.MethodPost, "/api/v1/palette/cheques", map[string]interface{}{
		"emitter_id":   "transporter-a",
		"emitter_name": "Transports A",
		"quantity":     10,
		"pallet_type":  "EURO_EPAL",
		"location":     map[string]float64{"latitude": 48.86, "longitude": 2.35},
	}, http.StatusCreated)
	chequeID := c["id"].(string)
	assert.Equal(t, siteID, c["target_site_id"])
	assert.Equal(t, "ISSUED", c["status"])
	assert.Equal(t, float64(-10), balanceOf(t, env, "transporter-a"))

	verified := env.call(t, http.MethodGet, "/api/v1/palette/cheques/"+chequeID+"/verify", nil, http.StatusOK)
	assert.Equal(t, true, verified["is_valid"])

	env.call(t, http.MethodPost, "/api/v1/palette/cheques/"+chequeID+"/dispatch", nil, http.StatusOK)
	env.call(t, http.MethodPost, "/api/v1/palette/cheques/"+chequeID+"/deposit", map[string]interface{}{
		"geolocation": paris,
		"signature":   "driver-signature",
		"photos":      []string{"https://photos.example/deposit.jpg"},
	}, http.StatusOK)

	c = env.call(t, http.MethodPost, "/api/v1/palette/cheques/"+chequeID+"/receive", map[string]interface{}{
		"quantity_received": 8,
		"receiver_id":       "site-co",
		"geolocation":       paris,
	}, http.StatusOK)
	assert.Equal(t, "DISPUTED", c["status"])
	assert.Equal(t, float64(8), balanceOf(t, env, "site-co"))

	d := env.call(t, http.MethodPost, "/api/v1/palette/disputes", map[string]interface{}{
		"cheque_id":    chequeID,
		"initiator_id": "site-co",
		"type":         "QUANTITY_MISMATCH",
		"description":  "two pallets missing",
	}, http.StatusCreated)
	disputeID := d["id"].(string)
	assert.Equal(t, "transporter-a", d["respondent_id"])

	// A second open dispute on the same chèque is a conflict.
	env.call(t, http.MethodPost, "/api/v1/palette/disputes", map[string]interface{}{
		"cheque_id":    chequeID,
		"initiator_id": "site-co",
		"type":         "QUANTITY_MISMATCH",
		"description":  "again",
	}, http.StatusConflict)

	env.call(t, http.MethodPost, "/api/v1/palette/disputes/"+disputeID+"/propose-resolution", map[string]interface{}{
		"type":              "PARTIAL_ADJUSTMENT",
		"adjusted_quantity": 9,
		"description":       "one pallet found in the truck",
		"proposed_by":       "transporter-a",
	}, http.StatusOK)
	d = env.call(t, http.MethodPost, "/api/v1/palette/disputes/"+disputeID+"/validate", map[string]interface{}{
		"accept":       true,
		"validated_by": "site-co",
	}, http.StatusOK)
	assert.Equal(t, "RESOLVED", d["status"])
	assert.Equal(t, float64(9), balanceOf(t, env, "site-co"))

	c = env.call(t, http.MethodGet, "/api/v1/palette/cheques/"+chequeID, nil, http.StatusOK)
	assert.Equal(t, "RECEIVED", c["status"])
	assert.Equal(t, float64(9), c["quantity_received"])

	stats := env.call(t, http.MethodGet, "/api/v1/palette/disputes/stats", nil, http.StatusOK)
	assert.Equal(t, float64(1), stats["total"])
	assert.Equal(t, float64(100), stats["resolution_rate"])

	// The registry mirrors issuance and reception, not the settlement.
	assert.Eventually(t, func() bool {
		report := env.call(t, http.MethodGet, "/api/v1/palette/registry/sync/transporter-a", nil, http.StatusOK)
		return report["synchronized"] == true
	}, 2*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		report := env.call(t, http.MethodGet, "/api/v1/palette/registry/sync/site-co", nil, http.StatusOK)
		return report["delta"] == float64(1)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCancelCreditsEmitterBack(t *testing.T) {
	env := setupTestServer(t)
	siteID := env.createSite(t, "site-co", false)

	c := env.call(t, http.MethodPost, "/api/v1/palette/cheques", map[string]interface{}{
		"emitter_id":     "transporter-b",
		"target_site_id": siteID,
		"quantity":       4,
		"pallet_type":    "DEMI_PALETTE",
	}, http.StatusCreated)
	chequeID := c["id"].(string)

	c = env.call(t, http.MethodPost, "/api/v1/palette/cheques/"+chequeID+"/cancel", map[string]string{"reason": "order cancelled"}, http.StatusOK)
	assert.Equal(t, "CANCELLED", c["status"])
	assert.Equal(t, float64(0), balanceOf(t, env, "transporter-b"))

	history := env.call(t, http.MethodGet, "/api/v1/palette/ledger/transporter-b/history", nil, http.StatusOK)
	items := history["items"].([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, "cancellation: order cancelled", items[0].(map[string]interface{})["reason"])

	// Cancelling twice is an illegal transition.
	env.call(t, http.MethodPost, "/api/v1/palette/cheques/"+chequeID+"/cancel", nil, http.StatusConflict)
}

func TestErrorMapping(t *testing.T) {
	env := setupTestServer(t)
	siteID := env.createSite(t, "strict-co", true)

	env.call(t, http.MethodGet, "/api/v1/palette/cheques/CHQ-UNKNOWN", nil, http.StatusNotFound)

	invalid := env.call(t, http.MethodPost, "/api/v1/palette/cheques", map[string]interface{}{
		"emitter_id":     "transporter-a",
		"target_site_id": siteID,
		"quantity":       0,
		"pallet_type":    "EURO_EPAL",
	}, http.StatusBadRequest)
	assert.Equal(t, "quantity", invalid["field"])

	quota := env.call(t, http.MethodPost, "/api/v1/palette/cheques", map[string]interface{}{
		"emitter_id":     "transporter-a",
		"target_site_id": siteID,
		"quantity":       150,
		"pallet_type":    "EURO_EPAL",
	}, http.StatusConflict)
	assert.Equal(t, float64(100), quota["available"])

	c := env.call(t, http.MethodPost, "/api/v1/palette/cheques", map[string]interface{}{
		"emitter_id":     "transporter-a",
		"target_site_id": siteID,
		"quantity":       5,
		"pallet_type":    "EURO_EPAL",
	}, http.StatusCreated)

	far := env.call(t, http.MethodPost, "/api/v1/palette/cheques/"+c["id"].(string)+"/deposit", map[string]interface{}{
		"geolocation": map[string]float64{"latitude": 48.8666, "longitude": 2.3522},
	}, http.StatusUnprocessableEntity)
	assert.Equal(t, float64(100), far["radius_meters"])

	// The site still expects a deposit, so it cannot be deactivated.
	env.call(t, http.MethodDelete, "/api/v1/palette/sites/"+siteID, nil, http.StatusConflict)

	env.call(t, http.MethodGet, "/api/v1/palette/cheques?status=LOST", nil, http.StatusBadRequest)
}

func TestSiteUpdateTogglesStrictGeofence(t *testing.T) {
	env := setupTestServer(t)
	siteID := env.createSite(t, "site-co", false)

	updated := env.call(t, http.MethodPut, "/api/v1/palette/sites/"+siteID, map[string]interface{}{
		"name":     "Quai Nord",
		"geofence": map[string]interface{}{"radius_meters": 150, "strict": true},
	}, http.StatusOK)
	assert.Equal(t, "Quai Nord", updated["name"])
	assert.Equal(t, "site-co", updated["company_id"])

	c := env.call(t, http.MethodPost, "/api/v1/palette/cheques", map[string]interface{}{
		"emitter_id":     "transporter-a",
		"target_site_id": siteID,
		"quantity":       3,
		"pallet_type":    "EURO_EPAL",
	}, http.StatusCreated)
	deposit := "/api/v1/palette/cheques/" + c["id"].(string) + "/deposit"

	env.call(t, http.MethodPost, deposit, nil, http.StatusUnprocessableEntity)

	env.call(t, http.MethodPut, "/api/v1/palette/sites/"+siteID, map[string]interface{}{
		"geofence": map[string]interface{}{"radius_meters": 150, "strict": false},
	}, http.StatusOK)
	env.call(t, http.MethodPost, deposit, nil, http.StatusOK)

	env.call(t, http.MethodPut, "/api/v1/palette/sites/"+siteID, map[string]interface{}{
		"priority_score": 150,
	}, http.StatusBadRequest)
	env.call(t, http.MethodPut, "/api/v1/palette/sites/SITE-NONE", map[string]interface{}{
		"name": "x",
	}, http.StatusNotFound)
}

func TestRegistryAndMatchingEndpoints(t *testing.T) {
	env := setupTestServer(t)
	env.createSite(t, "site-co", false)

	check := env.call(t, http.MethodPost, "/api/v1/palette/registry/validate-serial", map[string]string{"serial": "EPAL-2024-FR-001234"}, http.StatusOK)
	assert.Equal(t, true, check["valid"])
	check = env.call(t, http.MethodPost, "/api/v1/palette/registry/validate-serial", map[string]string{"serial": "EPAL-24-FR-1"}, http.StatusOK)
	assert.Equal(t, false, check["valid"])

	found := env.call(t, http.MethodPost, "/api/v1/palette/matching/find-sites", map[string]interface{}{
		"location":    paris,
		"quantity":    10,
		"pallet_type": "EURO_EPAL",
	}, http.StatusOK)
	assert.Equal(t, float64(1), found["total"])

	env.call(t, http.MethodPost, "/api/v1/palette/matching/best-site", map[string]interface{}{
		"location":    map[string]float64{"latitude": 43.2965, "longitude": 5.3698},
		"quantity":    10,
		"pallet_type": "EURO_EPAL",
	}, http.StatusNotFound)

	stats := env.call(t, http.MethodGet, "/api/v1/palette/matching/stats", nil, http.StatusOK)
	assert.Equal(t, float64(1), stats["active_sites"])
}

func TestHealthPublicKeyAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	health := env.call(t, http.MethodGet, "/health", nil, http.StatusOK)
	assert.Equal(t, "ok", health["status"])
	assert.NotEmpty(t, health["timestamp"])

	key := env.call(t, http.MethodGet, "/api/v1/public-key", nil, http.StatusOK)
	assert.NotEmpty(t, key["public_key"])
	assert.Equal(t, "Ed25519", key["algorithm"])

	siteID := env.createSite(t, "site-co", false)
	env.call(t, http.MethodPost, "/api/v1/palette/cheques", map[string]interface{}{
		"emitter_id":     "transporter-a",
		"target_site_id": siteID,
		"quantity":       1,
		"pallet_type":    "EURO_EPAL",
	}, http.StatusCreated)

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `palette_cheque_transitions_total{from="NONE",to="ISSUED"} 1`)
}
