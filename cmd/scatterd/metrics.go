package main

import (
	"fmt"
	"net/http"

	"scatterdrop.dev/internal/persistence/indexdb"
	"scatterdrop.dev/internal/persistence/offsite"
	"scatterdrop.dev/internal/sandbox"
)

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// metricsHandler serves the sandbox counters in Prometheus text format. idx and
// mirror may be nil.
func metricsHandler(sb *sandbox.Sandbox, idx *indexdb.SQLiteIndex, mirror *offsite.Mirror) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := sb.Metrics()
		scene := sb.SceneID()

		fmt.Fprintf(rw, "# HELP scatter_frame Last completed sandbox frame.\n")
		fmt.Fprintf(rw, "# TYPE scatter_frame gauge\n")
		fmt.Fprintf(rw, "scatter_frame{scene=%q} %d\n", scene, m.Frame)

		fmt.Fprintf(rw, "# HELP scatter_operators Connected operators.\n")
		fmt.Fprintf(rw, "# TYPE scatter_operators gauge\n")
		fmt.Fprintf(rw, "scatter_operators{scene=%q} %d\n", scene, m.Operators)

		fmt.Fprintf(rw, "# HELP scatter_session_running Whether a drop is simulating.\n")
		fmt.Fprintf(rw, "# TYPE scatter_session_running gauge\n")
		fmt.Fprintf(rw, "scatter_session_running{scene=%q} %d\n", scene, boolGauge(m.Running))

		fmt.Fprintf(rw, "# HELP scatter_instances Transient instances in the session.\n")
		fmt.Fprintf(rw, "# TYPE scatter_instances gauge\n")
		fmt.Fprintf(rw, "scatter_instances{scene=%q} %d\n", scene, m.Instances)

		fmt.Fprintf(rw, "# HELP scatter_commands_total Commands received.\n")
		fmt.Fprintf(rw, "# TYPE scatter_commands_total counter\n")
		fmt.Fprintf(rw, "scatter_commands_total{scene=%q} %d\n", scene, m.Commands)

		fmt.Fprintf(rw, "# HELP scatter_commands_rejected_total Commands answered with ERROR.\n")
		fmt.Fprintf(rw, "# TYPE scatter_commands_rejected_total counter\n")
		fmt.Fprintf(rw, "scatter_commands_rejected_total{scene=%q} %d\n", scene, m.Rejected)

		fmt.Fprintf(rw, "# HELP scatter_snapshots_total Snapshots handed to the writer.\n")
		fmt.Fprintf(rw, "# TYPE scatter_snapshots_total counter\n")
		fmt.Fprintf(rw, "scatter_snapshots_total{scene=%q} %d\n", scene, m.Snapshots)

		fmt.Fprintf(rw, "# HELP scatter_outbound_dropped_total Outbound messages dropped on slow operators.\n")
		fmt.Fprintf(rw, "# TYPE scatter_outbound_dropped_total counter\n")
		fmt.Fprintf(rw, "scatter_outbound_dropped_total{scene=%q} %d\n", scene, m.Dropped)

		fmt.Fprintf(rw, "# HELP scatter_step_ms Last frame step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE scatter_step_ms gauge\n")
		fmt.Fprintf(rw, "scatter_step_ms{scene=%q} %.3f\n", scene, float64(m.StepMicros)/1000)

		writeIndexMetrics(rw, idx)
		writeMirrorMetrics(rw, mirror)
	}
}

func writeIndexMetrics(rw http.ResponseWriter, idx *indexdb.SQLiteIndex) {
	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP scatter_index_queue_depth Current index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE scatter_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "scatter_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP scatter_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE scatter_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "scatter_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP scatter_index_dropped_total Index records dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE scatter_index_dropped_total counter\n")
	fmt.Fprintf(rw, "scatter_index_dropped_total{kind=%q} %d\n", "session", s.DropSessionTotal)
	fmt.Fprintf(rw, "scatter_index_dropped_total{kind=%q} %d\n", "placement", s.DropPlacementTotal)
	fmt.Fprintf(rw, "scatter_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
}

func writeMirrorMetrics(rw http.ResponseWriter, mirror *offsite.Mirror) {
	if mirror == nil {
		return
	}
	s := mirror.Stats()
	fmt.Fprintf(rw, "# HELP scatter_mirror_queue_depth Current mirror upload queue depth.\n")
	fmt.Fprintf(rw, "# TYPE scatter_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "scatter_mirror_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP scatter_mirror_files_total Mirror file outcomes.\n")
	fmt.Fprintf(rw, "# TYPE scatter_mirror_files_total counter\n")
	fmt.Fprintf(rw, "scatter_mirror_files_total{outcome=%q} %d\n", "enqueued", s.Enqueued)
	fmt.Fprintf(rw, "scatter_mirror_files_total{outcome=%q} %d\n", "dropped", s.Dropped)
	fmt.Fprintf(rw, "scatter_mirror_files_total{outcome=%q} %d\n", "uploaded", s.Uploaded)
	fmt.Fprintf(rw, "scatter_mirror_files_total{outcome=%q} %d\n", "failed", s.Failed)

	fmt.Fprintf(rw, "# HELP scatter_mirror_last_success_unix Unix time of the last successful upload.\n")
	fmt.Fprintf(rw, "# TYPE scatter_mirror_last_success_unix gauge\n")
	fmt.Fprintf(rw, "scatter_mirror_last_success_unix %d\n", s.LastSuccess)
}
