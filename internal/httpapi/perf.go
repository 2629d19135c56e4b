package httpapi

import (
	"net/http"
	"strings"

	"github.com/antoniostano/nessievoice/internal/observability"
)

type latencyReport struct {
	observability.StageSnapshot
	// OverTarget names the stages whose p95 is above their callback budget.
	OverTarget []string `json:"over_target"`
}

// handlePerfLatency reports the rolling per-stage latency window. ?stage=
// narrows the report to one stage.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	var snap observability.StageSnapshot
	if s.metrics != nil {
		snap = s.metrics.SnapshotStages()
	}
	if want := strings.TrimSpace(r.URL.Query().Get("stage")); want != "" {
		kept := snap.Stages[:0:0]
		for _, st := range snap.Stages {
			if st.Stage == want {
				kept = append(kept, st)
			}
		}
		snap.Stages = kept
	}
	if snap.Stages == nil {
		snap.Stages = []observability.StageStats{}
	}

	report := latencyReport{StageSnapshot: snap, OverTarget: []string{}}
	for _, st := range snap.Stages {
		if st.TargetP95MS > 0 && st.Samples > 0 && st.P95MS > st.TargetP95MS {
			report.OverTarget = append(report.OverTarget, st.Stage)
		}
	}
	respondJSON(w, http.StatusOK, report)
}
