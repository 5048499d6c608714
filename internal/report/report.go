package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/brackishlabs/burr/internal/crawl"
)

// Summary contains aggregated metrics about a crawl job's page records,
// suitable for CLI/automation output (`burr jobs show --summary`).
type Summary struct {
	TotalRequests   int
	TotalFailed     int
	TotalSkipped    int
	StatusCodes     map[int]int
	SkippedByReason map[string]int
	TotalBytes      int64
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}

// GenerateSummary processes a job's page records to produce a job
// summary. Records with a robots/content-type reason count as skipped;
// every other not-OK record counts as failed.
func GenerateSummary(results []crawl.PageRecord) Summary {
	s := Summary{
		StatusCodes:     make(map[int]int),
		SkippedByReason: make(map[string]int),
	}

	if len(results) == 0 {
		return s
	}

	s.StartTime = results[0].Timestamp
	s.EndTime = results[0].Timestamp

	for _, r := range results {
		s.TotalRequests++

		switch crawl.Reason(r.Reason) {
		case crawl.ReasonRobotsDisallowed, crawl.ReasonContentTypeReject:
			s.TotalSkipped++
			s.SkippedByReason[r.Reason]++
		case "":
			if !r.OK {
				s.TotalFailed++
			}
		default:
			s.TotalFailed++
		}

		if r.StatusCode > 0 {
			s.StatusCodes[r.StatusCode]++
		}
		s.TotalBytes += int64(r.Length)

		if r.Timestamp.Before(s.StartTime) {
			s.StartTime = r.Timestamp
		}
		if r.Timestamp.After(s.EndTime) {
			s.EndTime = r.Timestamp
		}
	}

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write json summary: %w", err)
	}
	return nil
}

const textTmpl = `Burr Crawl Summary
------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Total Pages:   {{.TotalRequests}}
Total Bytes:   {{.TotalBytes}} bytes
Failed:        {{.TotalFailed}}
Skipped:       {{.TotalSkipped}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Skipped By Reason:
{{- range $reason, $count := .SkippedByReason}}
  {{$reason}}: {{$count}}
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text report template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}
	return nil
}
