package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"omniroute/internal/opt"
)

const maxOptimizeBody = 4 << 20

type optimizeRequest struct {
	opt.ProblemInput
	async bool
}

// decodeOptimizeRequest reads the body and the ?async flag. Shape problems
// come back as *opt.ValidationError so the caller maps them to 400.
func decodeOptimizeRequest(w http.ResponseWriter, r *http.Request) (optimizeRequest, error) {
	var req optimizeRequest
	if v := r.URL.Query().Get("async"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, &opt.ValidationError{Field: "async", Reason: fmt.Sprintf("not a boolean: %q", v)}
		}
		req.async = b
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOptimizeBody))
	if err := dec.Decode(&req.ProblemInput); err != nil {
		if errors.Is(err, io.EOF) {
			return req, &opt.ValidationError{Field: "body", Reason: "empty request body"}
		}
		return req, &opt.ValidationError{Field: "body", Reason: err.Error()}
	}
	if len(req.Stops) > maxStopsPerRequest {
		return req, &opt.ValidationError{Field: "stops", Reason: fmt.Sprintf("at most %d stops per request, got %d", maxStopsPerRequest, len(req.Stops))}
	}
	return req, nil
}

// maxStopsPerRequest keeps a single request's matrix under ~2M cells.
const maxStopsPerRequest = 1000
