package benchmark

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// CSVHeader is the column order written by WriteCSV.
var CSVHeader = []string{
	"backend_kind", "metric", "dim", "backend_params",
	"dataset_size", "query_count", "k",
	"build_latency_ms", "query_latency_p50_ms", "query_latency_p95_ms",
	"recall_at_k", "memory_bytes", "started_at", "error",
}

// WriteCSV writes a header row and one row per record.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		params := ""
		if len(r.Config.Params) > 0 {
			b, err := json.Marshal(r.Config.Params)
			if err != nil {
				return err
			}
			params = string(b)
		}
		row := []string{
			string(r.Config.Kind),
			r.Config.Metric.String(),
			strconv.Itoa(r.Config.Dim),
			params,
			strconv.Itoa(r.DatasetSize),
			strconv.Itoa(r.QueryCount),
			strconv.Itoa(r.K),
			formatFloat(r.BuildLatencyMS),
			formatFloat(r.QueryLatencyP50),
			formatFloat(r.QueryLatencyP95),
			formatFloat(r.RecallAtK),
			strconv.FormatInt(r.MemoryBytes, 10),
			r.StartedAt.Format(time.RFC3339),
			r.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}
