package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// All counters are exposed as one metric with an event label, which keeps the
// in-process registry a flat map while staying scrapeable.
const eventMetric = "huddle_relay_events_total"

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// PrometheusHandler exposes the counters in Prometheus' text exposition
// format.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		events := make([]string, 0, len(snap))
		for event := range snap {
			events = append(events, event)
		}
		sort.Strings(events)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprintf(w, "# HELP %s Internal event counters.\n", eventMetric)
		fmt.Fprintf(w, "# TYPE %s counter\n", eventMetric)
		for _, event := range events {
			fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", eventMetric, labelEscaper.Replace(event), snap[event])
		}
	})
}
