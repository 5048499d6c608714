package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/brackishlabs/burr/internal/crawl"
	"github.com/brackishlabs/burr/internal/report"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage crawl jobs in the store",
}

var jobsListFlags struct {
	limit  int
	offset int
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List crawl jobs, most recently touched first",
	RunE:  runJobsList,
}

var jobsShowFlags struct {
	pagesOnly  bool
	okFilter   string
	limit      int
	offset     int
	summary    bool
	summaryFmt string
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job's manifest, or its page records with --pages",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsStopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Mark a running job's manifest as stopped",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStop,
}

var jobsExportFlags struct {
	format string
}

var jobsExportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Export a job's page records as JSONL or a ZIP bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsExport,
}

func init() {
	jobsListCmd.Flags().IntVar(&jobsListFlags.limit, "limit", 20, "maximum number of jobs to list")
	jobsListCmd.Flags().IntVar(&jobsListFlags.offset, "offset", 0, "number of jobs to skip")

	jobsShowCmd.Flags().BoolVar(&jobsShowFlags.pagesOnly, "pages", false, "list the job's page records instead of its manifest")
	jobsShowCmd.Flags().StringVar(&jobsShowFlags.okFilter, "ok", "", "filter pages by outcome: \"true\" or \"false\"")
	jobsShowCmd.Flags().IntVar(&jobsShowFlags.limit, "limit", 50, "maximum number of pages to list")
	jobsShowCmd.Flags().IntVar(&jobsShowFlags.offset, "offset", 0, "number of pages to skip")
	jobsShowCmd.Flags().BoolVar(&jobsShowFlags.summary, "summary", false, "print an aggregated summary of the job's page records instead of the manifest")
	jobsShowCmd.Flags().StringVar(&jobsShowFlags.summaryFmt, "summary-format", "text", "summary output format: text or json")

	jobsExportCmd.Flags().StringVar(&jobsExportFlags.format, "format", "jsonl", "export format: jsonl or zip")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsStopCmd, jobsExportCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(c *cobra.Command, args []string) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}

	summaries, err := s.ListJobs(jobsListFlags.limit, jobsListFlags.offset)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	for _, j := range summaries {
		fmt.Printf("%s  %-10s  %-30s  visited=%d ok=%d failed=%d skipped=%d\n",
			j.JobID, j.Status, j.SeedURL, j.Stats.Visited, j.Stats.OK, j.Stats.Failed, j.Stats.Skipped)
	}
	return nil
}

func runJobsShow(c *cobra.Command, args []string) error {
	jobID := args[0]
	s, _, err := openStore()
	if err != nil {
		return err
	}

	if jobsShowFlags.summary {
		pages, err := s.LoadAllPages(jobID)
		if err != nil {
			return fmt.Errorf("load pages: %w", err)
		}
		summary := report.GenerateSummary(pages)
		if jobsShowFlags.summaryFmt == "json" {
			return report.WriteJSON(os.Stdout, summary)
		}
		return report.WriteText(os.Stdout, summary)
	}

	if !jobsShowFlags.pagesOnly {
		params, state, err := s.LoadManifest(jobID)
		if err != nil {
			return fmt.Errorf("load manifest: %w", err)
		}
		fmt.Printf("job_id:      %s\n", state.JobID)
		fmt.Printf("seed_url:    %s\n", params.SeedURL)
		fmt.Printf("status:      %s\n", state.Status)
		fmt.Printf("elapsed_sec: %.1f\n", state.ElapsedSeconds())
		fmt.Printf("stats:       visited=%d ok=%d failed=%d skipped=%d queued=%d\n",
			state.Stats.Visited, state.Stats.OK, state.Stats.Failed, state.Stats.Skipped, state.Stats.Queued)
		if state.LastError != "" {
			fmt.Printf("last_error:  %s\n", state.LastError)
		}
		return nil
	}

	var okFilter *bool
	switch jobsShowFlags.okFilter {
	case "true":
		v := true
		okFilter = &v
	case "false":
		v := false
		okFilter = &v
	}

	pages, err := s.ListPagesForJob(jobID, jobsShowFlags.offset, jobsShowFlags.limit, okFilter)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		fmt.Printf("%-6v %3d  %-60s  %s\n", p.OK, p.StatusCode, p.URL, p.Reason)
	}
	return nil
}

func runJobsStop(c *cobra.Command, args []string) error {
	jobID := args[0]
	s, _, err := openStore()
	if err != nil {
		return err
	}

	params, state, err := s.LoadManifest(jobID)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	if state.Status.Terminal() {
		fmt.Printf("job %s already in terminal status %s\n", jobID, state.Status)
		return nil
	}

	state.Status = crawl.StatusStopped
	state.FinishedAt = time.Now().UTC()
	if err := s.SaveManifest(jobID, params, state); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	fmt.Printf("job %s marked stopped\n", jobID)
	return nil
}

func runJobsExport(c *cobra.Command, args []string) error {
	jobID := args[0]
	s, _, err := openStore()
	if err != nil {
		return err
	}

	var path string
	switch jobsExportFlags.format {
	case "jsonl":
		path, err = s.ExportJSONL(jobID)
	case "zip":
		path, err = s.ExportZIP(jobID)
	default:
		return fmt.Errorf("unknown export format %q", jobsExportFlags.format)
	}
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Println(path)
	return nil
}
