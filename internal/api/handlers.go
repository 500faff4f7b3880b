package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tg_paywall_bot/internal/initdata"
	"tg_paywall_bot/internal/logging"
	"tg_paywall_bot/internal/payments"
)

// maxInitDataBytes caps the request body; real initData payloads are well
// under a kilobyte.
const maxInitDataBytes = 8 << 10

// verifyInitData is overridable for tests.
var verifyInitData = initdata.Verify

type hasResponse struct {
	OK    bool  `json:"ok"`
	Has   bool  `json:"has"`
	Until int64 `json:"until"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type buyRequest struct {
	UserID int64 `json:"user_id"`
	Days   int   `json:"days"`
}

type buyResponse struct {
	OK          bool   `json:"ok"`
	InvoiceLink string `json:"invoice_link,omitempty"`
}

// handleCheckAccess verifies the caller's initData payload and reports the
// ledger state. All verification failures collapse to one 403 so the response
// never reveals which check failed.
func (s *Server) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	raw, err := readInitData(r)
	if err != nil {
		s.metrics.RecordCheckAccess(false)
		writeJSON(s.logger, w, http.StatusForbidden, errorResponse{OK: false})
		return
	}

	userID, err := verifyInitData(raw, s.botToken)
	if err != nil {
		s.metrics.RecordCheckAccess(false)
		s.logger.WithFields(logging.Fields{
			"event": "initdata_rejected",
		}).WithError(err).Warn("initData verification failed")
		writeJSON(s.logger, w, http.StatusForbidden, errorResponse{OK: false})
		return
	}

	s.metrics.RecordCheckAccess(true)

	has, until, err := s.ledger.Query(r.Context(), userID)
	if err != nil {
		s.logger.WithFields(logging.Fields{
			"event":   "ledger_query_error",
			"user_id": userID,
		}).WithError(err).Error("ledger query failed")
		writeJSON(s.logger, w, http.StatusInternalServerError, errorResponse{OK: false})
		return
	}

	writeJSON(s.logger, w, http.StatusOK, hasResponse{OK: true, Has: has, Until: until})
}

// handleBuy validates the purchase request against the plan table and submits
// an invoice. The allow-list check happens before any transport call.
func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInitDataBytes)).Decode(&req); err != nil {
		s.metrics.RecordPurchase("bad_request")
		writeJSON(s.logger, w, http.StatusBadRequest, errorResponse{OK: false, Error: "bad args"})
		return
	}

	if req.UserID == 0 {
		s.metrics.RecordPurchase("bad_request")
		writeJSON(s.logger, w, http.StatusBadRequest, errorResponse{OK: false, Error: "bad args"})
		return
	}

	plan, err := payments.PlanForDays(req.Days)
	if err != nil {
		s.metrics.RecordPurchase("bad_request")
		s.logger.WithFields(logging.Fields{
			"event":   "buy_rejected",
			"user_id": req.UserID,
			"days":    req.Days,
		}).Warn("purchase with unknown plan rejected")
		writeJSON(s.logger, w, http.StatusBadRequest, errorResponse{OK: false, Error: "bad args"})
		return
	}

	link, err := s.invoicer.Submit(r.Context(), req.UserID, plan)
	if err != nil {
		s.metrics.RecordPurchase("transport_error")
		s.logger.WithFields(logging.Fields{
			"event":   "invoice_error",
			"user_id": req.UserID,
			"days":    req.Days,
		}).WithError(err).Error("invoice submission failed")
		writeJSON(s.logger, w, http.StatusInternalServerError, errorResponse{OK: false, Error: "invoice failed"})
		return
	}

	s.metrics.RecordPurchase("accepted")
	writeJSON(s.logger, w, http.StatusOK, buyResponse{OK: true, InvoiceLink: link})
}

// readInitData takes the raw payload from the POST body, falling back to the
// initData query parameter used by older mini-app clients.
func readInitData(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInitDataBytes))
	if err != nil {
		return "", err
	}

	raw := strings.TrimSpace(string(body))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("initData"))
	}
	if raw == "" {
		return "", errors.New("empty initData payload")
	}

	return raw, nil
}
