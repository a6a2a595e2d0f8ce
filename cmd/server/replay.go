package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/aggregate"
	"github.com/doc-extract/backend/internal/logging"
	"github.com/doc-extract/backend/internal/models"
	"github.com/doc-extract/backend/internal/schema"
	"github.com/doc-extract/backend/internal/stream"
)

var replayCmd = &cobra.Command{
	Use:   "replay <stream-file>",
	Short: "Decode a recorded extraction stream offline",
	Long: `Decode a recorded extraction event stream ("-" reads stdin), aggregate it
the way a live run would, and print the run summary, protocol anomalies and
the schema analysis that picks the review layout.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().String("hints", "", "YAML schema hints file")
	replayCmd.Flags().Bool("json", false, "print the report as JSON")
	replayCmd.Flags().String("log-level", "error", "log level for decoder and aggregator warnings")
}

// replayReport is what a replayed stream amounts to.
type replayReport struct {
	State     models.RunState         `json:"state"`
	Failure   string                  `json:"failure,omitempty"`
	Model     *models.InitEvent       `json:"model,omitempty"`
	Progress  models.Progress         `json:"progress"`
	Summary   *models.RunSummary      `json:"summary,omitempty"`
	Results   int                     `json:"results"`
	Dropped   int                     `json:"droppedFrames"`
	Anomalies []models.Anomaly        `json:"anomalies"`
	Schema    models.SchemaComplexity `json:"schema"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	hintsPath, _ := cmd.Flags().GetString("hints")
	asJSON, _ := cmd.Flags().GetBool("json")
	level, _ := cmd.Flags().GetString("log-level")

	logger, _, err := logging.New(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var hints *schema.HintSet
	if hintsPath != "" {
		if hints, err = schema.LoadHints(hintsPath); err != nil {
			return err
		}
	}

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	report := replay(cmd.Context(), in, hints, logger)
	return writeReport(cmd.OutOrStdout(), report, asJSON)
}

// replay decodes and aggregates a whole stream. A stream that ends without a
// complete event is reported as failed, as a live run would be.
func replay(ctx context.Context, r io.Reader, hints *schema.HintSet, logger *zap.Logger) replayReport {
	dec := stream.NewDecoder(r, logger.Named("decoder"))
	agg := aggregate.New(logger.Named("aggregator"))

	for ev, err := range dec.Events(ctx) {
		if err != nil {
			agg.Fail(err)
			break
		}
		if err := agg.Ingest(ev); err != nil {
			logger.Debug("event rejected", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
	if !agg.State().Terminal() {
		agg.Finish()
	}

	var modelHints *schema.Hints
	if m := agg.Model(); m != nil {
		modelHints = hints.For(m.ModelKey)
	}

	return replayReport{
		State:     agg.State(),
		Failure:   agg.Failure(),
		Model:     agg.Model(),
		Progress:  agg.Progress(),
		Summary:   agg.Summary(),
		Results:   agg.Len(),
		Dropped:   dec.Dropped(),
		Anomalies: agg.Anomalies(),
		Schema:    schema.Analyze(agg.Records(), modelHints),
	}
}

func writeReport(w io.Writer, r replayReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", r.State)
	if r.Failure != "" {
		fmt.Fprintf(tw, "Failure:\t%s\n", r.Failure)
	}
	if r.Model != nil {
		fmt.Fprintf(tw, "Model:\t%s (%s)\n", r.Model.ModelName, r.Model.ModelKey)
	}
	fmt.Fprintf(tw, "Results:\t%d (%d successful, %d failed)\n", r.Results, r.Progress.Successful, r.Progress.Failed)
	if r.Summary != nil && !r.Summary.Consistent {
		fmt.Fprintf(tw, "Reported:\t%d successful, %d failed (inconsistent)\n", r.Summary.ReportedSuccessful, r.Summary.ReportedFailed)
	}
	fmt.Fprintf(tw, "Dropped frames:\t%d\n", r.Dropped)
	fmt.Fprintf(tw, "Layout:\t%s (complexity %s, score %d)\n", r.Schema.View, r.Schema.Level, r.Schema.Score)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Schema.Fields) > 0 {
		fmt.Fprintln(w, "\nFields:")
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, f := range r.Schema.Fields {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.Name, f.Type, f.Label)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Anomalies) > 0 {
		fmt.Fprintln(w, "\nAnomalies:")
		for _, a := range r.Anomalies {
			fmt.Fprintf(w, "  %s: %s\n", a.Kind, a.Message)
		}
	}
	return nil
}
