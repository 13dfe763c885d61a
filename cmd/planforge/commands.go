package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/run"
)

// --- research ---

var researchCmd = &cobra.Command{
	Use:   "research <query>",
	Short: "Start a theme research run and stream its progress",
	Long: `Start a theme research run and stream its progress.

The run gathers scholarly evidence, generates ranked theme candidates and
suspends waiting for a selection. Continue with:

  planforge resume <run-id> --select <candidate-id>`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		domain, _ := cmd.Flags().GetString("domain")
		keywords, _ := cmd.Flags().GetString("keywords")
		project, _ := cmd.Flags().GetString("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"kind": run.KindTheme,
			"input": run.StartInput{
				Query:     query,
				Domain:    domain,
				Keywords:  keywords,
				ProjectID: project,
			},
		}
		return streamRun(cmd, client, req)
	},
}

func init() {
	researchCmd.Flags().String("domain", "", "research domain to scope the query")
	researchCmd.Flags().String("keywords", "", "comma-separated keywords")
	researchCmd.Flags().String("project", "", "project id to attach the run to")
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Start a plan drafting run and stream its progress",
	Long: `Start a plan drafting run and stream its progress.

The run drafts a research plan from a title or research question and
suspends waiting for review. Continue with:

  planforge resume <run-id> --review "comments"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		rq, _ := cmd.Flags().GetString("rq")
		project, _ := cmd.Flags().GetString("project")

		if title == "" && rq == "" {
			return fmt.Errorf("one of --title or --rq is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"kind": run.KindPlan,
			"input": run.StartInput{
				Title:     title,
				RQ:        rq,
				ProjectID: project,
			},
		}
		return streamRun(cmd, client, req)
	},
}

func init() {
	planCmd.Flags().String("title", "", "working title for the plan")
	planCmd.Flags().String("rq", "", "research question for the plan")
	planCmd.Flags().String("project", "", "project id to attach the run to")
}

// streamRun posts a start request and renders the SSE event stream until the
// server closes it.
func streamRun(cmd *cobra.Command, client *apiClient, req map[string]any) error {
	resp, err := client.stream(cmd.Context(), "/v1/runs/start", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var runID string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev run.Event
		if err := json.Unmarshal([]byte(line[len("data: "):]), &ev); err != nil {
			printWarning("unreadable event: %v", err)
			continue
		}
		if ev.RunID != "" {
			runID = ev.RunID
		}
		renderEvent(ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}

	if runID != "" {
		fmt.Printf("\nRun ID: %s\n", runID)
	}
	return nil
}

func renderEvent(ev run.Event) {
	switch ev.Type {
	case run.EventStarted:
		printStep("run %s started", ev.RunID)
	case run.EventProgress:
		printStep("%s", ev.Message)
	case run.EventCandidates:
		fmt.Printf("\n%s\n", colorize(colorBold, "Theme candidates"))
		for i, c := range ev.Candidates {
			fmt.Printf("\n%d. %s [%s]\n", i+1, colorize(colorBold, c.Title), c.ID)
			if c.Summary != "" {
				fmt.Printf("   %s\n", c.Summary)
			}
			fmt.Printf("   novelty %.0f%%  feasibility %.0f%%  risk %.0f%%\n",
				c.Novelty*100, c.Feasibility*100, c.Risk*100)
		}
	case run.EventReview:
		if ev.Plan != nil {
			fmt.Printf("\n%s\n", colorize(colorBold, "Draft plan"))
			renderPlan(*ev.Plan)
		}
	case run.EventSuspend:
		switch ev.Reason {
		case run.ReasonSelectCandidate:
			printWarning("run suspended: select a candidate with `planforge resume %s --select <id>`", ev.RunID)
		case run.ReasonReviewPlan:
			printWarning("run suspended: review the plan with `planforge resume %s --review \"comments\"`", ev.RunID)
		default:
			printWarning("run suspended (%s)", ev.Reason)
		}
	}
}

func renderPlan(p plan.Draft) {
	for _, field := range plan.Fields {
		val := p.Field(field)
		if val == "" {
			continue
		}
		fmt.Printf("\n%s\n%s\n", colorize(colorCyan, field), val)
	}
}

// --- resume ---

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Answer a suspended run",
	Long: `Answer a suspended run.

A theme run expects a candidate selection; a plan run expects review
comments:

  planforge resume r-123 --select t1
  planforge resume r-456 --review "tighten the identification strategy"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		selectID, _ := cmd.Flags().GetString("select")
		selectTitle, _ := cmd.Flags().GetString("title")
		review, _ := cmd.Flags().GetString("review")

		if selectID == "" && review == "" {
			return fmt.Errorf("one of --select or --review is required")
		}

		var input run.ResumeInput
		if selectID != "" {
			input.Selected = &run.Selection{ID: selectID, Title: selectTitle}
		}
		input.Review = review

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/runs/"+url.PathEscape(runID)+"/resume", input)
		if err != nil {
			return err
		}

		var result run.ResumeResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Selected != nil {
			printSuccess("Selected: %s", result.Selected.Title)
		}
		fmt.Printf("\n%s\n", colorize(colorBold, "Plan"))
		renderPlan(result.Plan)
		if len(result.Diff) > 0 {
			fmt.Printf("\n%s\n", colorize(colorBold, "Changes"))
			for _, ch := range result.Diff {
				fmt.Printf("  %s\n", colorize(colorCyan, ch.Field))
				fmt.Printf("    - %s\n", truncate(ch.Before, 200))
				fmt.Printf("    + %s\n", truncate(ch.After, 200))
			}
		}
		return nil
	},
}

func init() {
	resumeCmd.Flags().String("select", "", "candidate id to select")
	resumeCmd.Flags().String("title", "", "candidate title (optional, with --select)")
	resumeCmd.Flags().String("review", "", "review comments for the drafted plan")
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/runs?limit=%d", limit))
		if err != nil {
			return err
		}

		var result struct {
			Runs []struct {
				ID            string `json:"id"`
				Kind          string `json:"kind"`
				Status        string `json:"status"`
				SuspendReason string `json:"suspendReason"`
				StartedAt     string `json:"startedAt"`
			} `json:"runs"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}
		for _, r := range result.Runs {
			status := r.Status
			if r.SuspendReason != "" {
				status = fmt.Sprintf("%s (%s)", r.Status, r.SuspendReason)
			}
			fmt.Printf("%s  %-6s %-30s %s\n", r.ID, r.Kind, status, r.StartedAt)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its stored results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/runs/"+url.PathEscape(runID))
		if err != nil {
			return err
		}

		var rec map[string]any
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		pretty, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(pretty))

		resp, err = client.get(cmd.Context(), "/v1/runs/"+url.PathEscape(runID)+"/results")
		if err != nil {
			return err
		}

		var results struct {
			Results []struct {
				Type      string          `json:"type"`
				Payload   json.RawMessage `json:"payload"`
				CreatedAt string          `json:"createdAt"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}
		for _, res := range results.Results {
			fmt.Printf("\n%s (%s)\n", colorize(colorBold, res.Type), res.CreatedAt)
			fmt.Println(truncate(string(res.Payload), 2000))
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a document into the reference library",
	Long: `Ingest a document into the reference library.

Examples:
  planforge ingest --text "notes on diff-in-diff designs" --title "Methods notes"
  planforge ingest --url https://example.com/article
  planforge ingest --file ./paper.pdf --title "Smith 2024"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		srcURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && srcURL == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		req := map[string]any{}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case srcURL != "":
			req["type"] = "url"
			req["url"] = srcURL
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if title == "" {
				req["title"] = file
			}
			if strings.HasSuffix(strings.ToLower(file), ".pdf") {
				req["type"] = "file"
				req["content"] = base64.StdEncoding.EncodeToString(data)
			} else {
				req["type"] = "text"
				req["content"] = string(data)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/library/ingest", req)
		if err != nil {
			return err
		}

		var doc struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Chunks int    `json:"chunks"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		printSuccess("Ingested %q (%d chunks, id %s)", doc.Title, doc.Chunks, doc.ID)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (.pdf or plain text)")
	ingestCmd.Flags().String("title", "", "title for the document")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the reference library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/library/search?q=%s&k=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Hits []struct {
				DocumentID string  `json:"documentId"`
				Content    string  `json:"content"`
				Score      float64 `json:"score"`
			} `json:"hits"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Hits) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, h := range result.Hits {
			fmt.Printf("\n%s [score: %.3f, doc: %s]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), h.Score, h.DocumentID)
			fmt.Printf("  %s\n", truncate(h.Content, 500))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
