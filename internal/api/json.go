package api

import (
	"encoding/json"
	"net/http"
)

// Problem represents an RFC7807 problem details response body. Kind and
// JobID are extension members set for solver failures.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Kind     string `json:"kind,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func writeSolveProblem(w http.ResponseWriter, r *http.Request, err *solveError) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(err.status())
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    err.title(),
		Status:   err.status(),
		Detail:   err.Msg,
		Instance: r.URL.Path,
		Kind:     err.Kind,
		JobID:    err.JobID,
	})
}
