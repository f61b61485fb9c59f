package charging

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/result"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/format/lgf"
	"github.com/turtacn/ChargeAssign/pkg/errors"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
)

// Merge applies the set fields of o over opts.
func (opts Options) Merge(o *charge.Options) Options {
	if o == nil {
		return opts
	}
	if len(o.Shells) > 0 {
		opts.Shells = append([]int(nil), o.Shells...)
	}
	if o.IACM != nil {
		opts.IACM = *o.IACM
	}
	if o.FallbackToElements != nil {
		opts.FallbackToElements = *o.FallbackToElements
	}
	return opts
}

// RequestFromWire parses the LGF text of req and resolves its options
// against defaults.
func RequestFromWire(req *charge.Request, defaults Options) (Request, error) {
	if req == nil {
		return Request{}, errors.InvalidParam("request body is required")
	}
	if err := req.Validate(); err != nil {
		return Request{}, errors.InvalidParam("invalid charge request").WithDetail(err.Error())
	}
	mol, err := lgf.DecodeString(req.LGF)
	if err != nil {
		return Request{}, err
	}
	out := Request{Molecule: mol, TotalCharge: req.TotalCharge}
	if req.Options != nil {
		opts := defaults.Merge(req.Options)
		out.Options = &opts
	}
	return out, nil
}

// ResponseToWire renders sol for transport.
func ResponseToWire(sol *result.Solution) (*charge.Response, error) {
	text, err := lgf.EncodeString(sol.Molecule)
	if err != nil {
		return nil, err
	}
	atoms := sol.Molecule.Atoms()
	out := &charge.Response{
		TotalCharge: sol.Total,
		Atoms:       make([]charge.AtomCharge, len(atoms)),
		LGF:         text,
		Stats: charge.Stats{
			Mode:          string(sol.Stats.Mode),
			Shell:         sol.Stats.Shell,
			Classes:       sol.Stats.Classes,
			Items:         sol.Stats.Items,
			PeakTableSize: sol.Stats.PeakSize,
			Weight:        sol.Stats.Weight,
			SolveMillis:   float64(sol.Stats.Solve) / float64(time.Millisecond),
			Attempts:      sol.Stats.Attempts,
		},
	}
	for i, a := range atoms {
		ac := charge.AtomCharge{
			Label:    a.Label,
			Name:     a.Name,
			AtomType: a.AtomType,
			Element:  a.Element,
			Charge:   sol.Charges[i],
		}
		if a.ClassID != nil {
			ac.Class = *a.ClassID
		}
		out.Atoms[i] = ac
	}
	return out, nil
}

// ErrorToWire renders err for transport. Context errors become timeouts;
// other errors without a code are reported as internal without their message.
func ErrorToWire(err error) *charge.Error {
	var app *errors.AppError
	if stderrors.As(err, &app) {
		return &charge.Error{Code: app.Code.String(), Message: app.Message, Detail: app.Detail}
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return &charge.Error{Code: errors.CodeTimeout.String(), Message: err.Error()}
	}
	return &charge.Error{Code: errors.ErrCodeInternal.String(), Message: "internal error"}
}

// InfoToWire renders repository statistics for transport.
func InfoToWire(info candidate.Info) charge.RepositoryInfo {
	out := charge.RepositoryInfo{
		Oracle:         info.Oracle,
		MinShell:       info.MinShell,
		MaxShell:       info.MaxShell,
		Molecules:      info.Molecules,
		Resolution:     info.Resolution,
		Overrides:      info.Overrides,
		LoadedAt:       info.LoadedAt.UTC().Format(time.RFC3339),
		Signatures:     info.Signatures,
		Observations:   info.Observations,
		IsomorphGroups: make(map[string]int, len(info.Isomorphs)),
	}
	for mode, n := range info.Isomorphs {
		out.IsomorphGroups[string(mode)] = n
	}
	return out
}

// ChargeWire charges a single wire request.
func (s *Service) ChargeWire(ctx context.Context, req *charge.Request) (*charge.Response, error) {
	r, err := RequestFromWire(req, s.Defaults())
	if err != nil {
		return nil, err
	}
	sol, err := s.Charge(ctx, r)
	if err != nil {
		return nil, err
	}
	return ResponseToWire(sol)
}

// ChargeBatchWire charges every request that parses in a single batch and
// reports all outcomes in request order.
func (s *Service) ChargeBatchWire(ctx context.Context, reqs []charge.Request) *charge.BatchResponse {
	resp := &charge.BatchResponse{Items: make([]charge.BatchItem, len(reqs))}
	parsed := make([]Request, 0, len(reqs))
	index := make([]int, 0, len(reqs))
	defaults := s.Defaults()
	for i := range reqs {
		resp.Items[i].Index = i
		r, err := RequestFromWire(&reqs[i], defaults)
		if err != nil {
			resp.Items[i].Error = ErrorToWire(err)
			continue
		}
		parsed = append(parsed, r)
		index = append(index, i)
	}
	for j, out := range s.ChargeBatch(ctx, parsed) {
		item := &resp.Items[index[j]]
		if out.Err != nil {
			item.Error = ErrorToWire(out.Err)
			continue
		}
		w, err := ResponseToWire(out.Solution)
		if err != nil {
			item.Error = ErrorToWire(err)
			continue
		}
		item.Result = w
	}
	for _, it := range resp.Items {
		if it.Error != nil {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
	}
	return resp
}
