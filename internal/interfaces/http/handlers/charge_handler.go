package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/pkg/errors"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
)

// Charger is the part of charging.Service the HTTP API needs.
type Charger interface {
	ChargeWire(ctx context.Context, req *charge.Request) (*charge.Response, error)
	ChargeBatchWire(ctx context.Context, reqs []charge.Request) *charge.BatchResponse
	Repository() *candidate.Repository
}

// ChargeHandler serves the charge API.
type ChargeHandler struct {
	charger     Charger
	maxBodySize int64
	maxBatch    int
	logger      logging.Logger
}

// NewChargeHandler returns a handler. Non-positive limits fall back to an
// 8 MiB body and unbounded batches.
func NewChargeHandler(charger Charger, maxBodySize int64, maxBatch int, logger logging.Logger) *ChargeHandler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ChargeHandler{charger: charger, maxBodySize: maxBodySize, maxBatch: maxBatch, logger: logger}
}

// Charge handles POST /api/v1/charge.
//
// A JSON body is a charge.Request. Any other body is LGF text; the total
// charge and options then come from the query string (total_charge, shells,
// iacm, fallback_to_elements). With "Accept: text/plain" the charged LGF is
// returned as is, otherwise a JSON charge.Response.
func (h *ChargeHandler) Charge(w http.ResponseWriter, r *http.Request) {
	var req charge.Request
	if isJSON(r.Header.Get("Content-Type")) {
		if !decodeJSON(w, r, h.maxBodySize, &req) {
			return
		}
	} else {
		body, ok := readBody(w, r, h.maxBodySize)
		if !ok {
			return
		}
		q, err := requestFromQuery(r)
		if err != nil {
			writeAppError(w, r, h.logger, err)
			return
		}
		q.LGF = string(body)
		req = *q
	}

	resp, err := h.charger.ChargeWire(r.Context(), &req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	if wantsText(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Charge-Mode", resp.Stats.Mode)
		w.Header().Set("X-Charge-Shell", strconv.Itoa(resp.Stats.Shell))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(resp.LGF))
		return
	}
	writeData(w, r, http.StatusOK, resp)
}

// ChargeBatch handles POST /api/v1/charge/batch with a charge.BatchRequest.
// Per-molecule failures are reported in the items; the call itself succeeds.
func (h *ChargeHandler) ChargeBatch(w http.ResponseWriter, r *http.Request) {
	var req charge.BatchRequest
	if !decodeJSON(w, r, h.maxBodySize, &req) {
		return
	}
	if len(req.Molecules) == 0 {
		writeError(w, r, http.StatusBadRequest, errors.CodeInvalidParam, "molecules is required", "")
		return
	}
	if h.maxBatch > 0 && len(req.Molecules) > h.maxBatch {
		writeError(w, r, http.StatusBadRequest, errors.CodeInvalidParam, "batch too large",
			fmt.Sprintf("%d molecules exceed the limit of %d", len(req.Molecules), h.maxBatch))
		return
	}
	writeData(w, r, http.StatusOK, h.charger.ChargeBatchWire(r.Context(), req.Molecules))
}

// Repository handles GET /api/v1/repository.
func (h *ChargeHandler) Repository(w http.ResponseWriter, r *http.Request) {
	repo := h.charger.Repository()
	if repo == nil {
		writeAppError(w, r, h.logger, errors.New(errors.ErrCodeRepositoryUnavailable, "no repository loaded"))
		return
	}
	writeData(w, r, http.StatusOK, charging.InfoToWire(repo.Info()))
}

// requestFromQuery reads the request fields that accompany an LGF body.
func requestFromQuery(r *http.Request) (*charge.Request, error) {
	q := r.URL.Query()
	req := &charge.Request{}
	if v := q.Get("total_charge"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.InvalidParam("invalid total_charge").WithDetail(v)
		}
		req.TotalCharge = &f
	}

	var opts charge.Options
	set := false
	if v := q.Get("shells"); v != "" {
		for _, part := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, errors.InvalidParam("invalid shells").WithDetail(v)
			}
			opts.Shells = append(opts.Shells, n)
		}
		set = true
	}
	for name, dst := range map[string]**bool{"iacm": &opts.IACM, "fallback_to_elements": &opts.FallbackToElements} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.InvalidParam("invalid " + name).WithDetail(v)
		}
		*dst = &b
		set = true
	}
	if set {
		req.Options = &opts
	}
	return req, nil
}
