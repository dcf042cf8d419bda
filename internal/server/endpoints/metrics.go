package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/metrics"
	"github.com/jackzampolin/underwrite/internal/svcctx"
)

// MetricsSummaryResponse aggregates stage metrics since startup.
type MetricsSummaryResponse struct {
	Stages       []metrics.StageStats `json:"stages"`
	TotalCostUSD float64              `json:"total_cost_usd"`
}

// MetricsSummaryEndpoint handles GET /api/metrics/summary.
type MetricsSummaryEndpoint struct{}

func (e *MetricsSummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics/summary", e.handler
}

func (e *MetricsSummaryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Stage metrics summary
//	@Description	Per-stage outcome counts, token usage, cost and latency percentiles
//	@Tags			metrics
//	@Produce		json
//	@Success		200	{object}	MetricsSummaryResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/metrics/summary [get]
func (e *MetricsSummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec := svcctx.MetricsFrom(r.Context())
	if rec == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not initialized")
		return
	}
	resp := MetricsSummaryResponse{Stages: rec.Summary()}
	for _, s := range resp.Stages {
		resp.TotalCostUSD += s.TotalCostUSD
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *MetricsSummaryEndpoint) Command(getServerURL func() string) *cobra.Command {
	var table bool
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show per-stage metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp MetricsSummaryResponse
			if err := client.Get(cmd.Context(), "/api/metrics/summary", &resp); err != nil {
				return err
			}
			if !table {
				return api.Output(resp)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STAGE\tRUNS\tOK\tRETRY\tFAIL\tP50\tP95\tCOST")
			for _, s := range resp.Stages {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.2fs\t%.2fs\t$%.4f\n",
					s.Stage, s.Count, s.Completed, s.Recoverable, s.NonRecoverable,
					s.LatencyP50, s.LatencyP95, s.TotalCostUSD)
			}
			fmt.Fprintf(tw, "TOTAL\t\t\t\t\t\t\t$%.4f\n", resp.TotalCostUSD)
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&table, "table", false, "Print a table instead of JSON")
	return cmd
}
