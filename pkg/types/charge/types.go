// Package charge defines the wire types of the charge assignment API. They
// are shared by the HTTP and gRPC transports, the queued job worker and the
// Go client, and import nothing from the service internals.
package charge

import (
	"fmt"
	"math"
)

// Options overrides the server's charging defaults. Nil fields keep the
// default.
type Options struct {
	// Shells to try, largest first. Empty means the server default.
	Shells             []int `json:"shells,omitempty"`
	IACM               *bool `json:"iacm,omitempty"`
	FallbackToElements *bool `json:"fallback_to_elements,omitempty"`
}

// Request asks for the charges of one molecule given as LGF text.
type Request struct {
	LGF string `json:"lgf"`
	// TotalCharge must be integral. When absent the LGF total_charge
	// attribute is used.
	TotalCharge *float64 `json:"total_charge,omitempty"`
	Options     *Options `json:"options,omitempty"`
}

// Validate checks the fields that need no parsing.
func (r *Request) Validate() error {
	if r.LGF == "" {
		return fmt.Errorf("lgf is required")
	}
	if r.TotalCharge != nil {
		v := *r.TotalCharge
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return fmt.Errorf("total_charge must be an integer, got %v", v)
		}
	}
	if r.Options != nil {
		for _, s := range r.Options.Shells {
			if s < 1 {
				return fmt.Errorf("shells must be positive, got %d", s)
			}
		}
	}
	return nil
}

// AtomCharge is the charge assigned to one atom.
type AtomCharge struct {
	Label    string  `json:"label"`
	Name     string  `json:"name,omitempty"`
	AtomType string  `json:"atom_type"`
	Element  string  `json:"element"`
	Charge   float64 `json:"charge"`
	Class    int     `json:"class"`
}

// Stats describes how a molecule was solved.
type Stats struct {
	Mode          string  `json:"mode"`
	Shell         int     `json:"shell"`
	Classes       int     `json:"classes"`
	Items         int     `json:"items"`
	PeakTableSize int     `json:"peak_table_size"`
	Weight        float64 `json:"weight"`
	SolveMillis   float64 `json:"solve_ms"`
	Attempts      int     `json:"attempts"`
}

// Response is a charged molecule.
type Response struct {
	TotalCharge int          `json:"total_charge"`
	Atoms       []AtomCharge `json:"atoms"`
	// LGF is the input molecule with a partial_charge column filled in.
	LGF   string `json:"lgf"`
	Stats Stats  `json:"stats"`
}

// Charges returns the per-atom charges in atom order.
func (r *Response) Charges() []float64 {
	out := make([]float64, len(r.Atoms))
	for i, a := range r.Atoms {
		out[i] = a.Charge
	}
	return out
}

// Error is a failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// BatchRequest charges several molecules in one call.
type BatchRequest struct {
	Molecules []Request `json:"molecules"`
}

// BatchItem is the outcome for BatchRequest.Molecules[Index]. Exactly one
// of Result and Error is set.
type BatchItem struct {
	Index  int       `json:"index"`
	Result *Response `json:"result,omitempty"`
	Error  *Error    `json:"error,omitempty"`
}

// BatchResponse lists the outcomes in request order.
type BatchResponse struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// RepositoryInfo describes the loaded reference repository. Map keys are
// "<mode>/<shell>".
type RepositoryInfo struct {
	Oracle         string         `json:"oracle,omitempty"`
	MinShell       int            `json:"min_shell"`
	MaxShell       int            `json:"max_shell"`
	Molecules      int            `json:"molecules"`
	Resolution     float64        `json:"resolution"`
	Overrides      int            `json:"overrides"`
	LoadedAt       string         `json:"loaded_at"`
	Signatures     map[string]int `json:"signatures"`
	Observations   map[string]int `json:"observations"`
	IsomorphGroups map[string]int `json:"isomorph_groups"`
}

// Job statuses.
const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Job is a queued charge request.
type Job struct {
	JobID string `json:"job_id"`
	Request
}

// JobResult is published once per job.
type JobResult struct {
	JobID  string    `json:"job_id"`
	Status string    `json:"status"`
	Result *Response `json:"result,omitempty"`
	Error  *Error    `json:"error,omitempty"`
}
