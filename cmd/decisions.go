package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/monitoring"
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Read the decision log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		entityID, _ := cmd.Flags().GetString("entity")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := env.Store.ListDecisions(ctx, model.DecisionFilter{
			EntityID:       entityID,
			SourceRecordID: source,
			Limit:          limit,
		})
		if err != nil {
			return eris.Wrap(err, "decisions")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No decisions found.")
			return nil
		}
		formatDecisions(os.Stdout, entries)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent decisions: acceptance, corrections, and origins",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		hours, _ := cmd.Flags().GetInt("hours")
		snap, err := monitoring.NewCollector(env.Store).Collect(ctx, hours)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(snap)
		}
		formatStats(os.Stdout, snap)
		return nil
	},
}

func formatDecisions(w io.Writer, entries []model.DecisionLogEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSOURCE\tRAW\tCHOSEN\tORIGIN\tCONF\tTIER\tTOP")
	for _, d := range entries {
		top := "no"
		if d.WasTopSuggestion {
			top = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.1f\t%s\t%s\n",
			d.CreatedAt.Format("2006-01-02 15:04:05"), d.SourceRecordID, d.RawInput,
			d.ChosenEntityName, d.Origin, d.Confidence, d.Tier, top)
	}
	_ = tw.Flush()
}

func formatStats(w io.Writer, s *monitoring.MetricsSnapshot) {
	window := "all time"
	if s.LookbackHours > 0 {
		window = fmt.Sprintf("last %dh", s.LookbackHours)
	}
	fmt.Fprintf(w, "Decisions (%s): %d\n", window, s.Decisions)
	fmt.Fprintf(w, "  accepted top suggestion: %d\n", s.Accepted)
	fmt.Fprintf(w, "  corrected:               %d (%.1f%%)\n", s.Corrections, s.CorrectionRate*100)
	fmt.Fprintf(w, "  no suggestion shown:     %d\n", s.Unsuggested)
	fmt.Fprintf(w, "  manual picks:            %.1f%%\n", s.ManualRate*100)
	fmt.Fprintf(w, "  avg confidence:          %.1f\n", s.AvgConfidence)

	origins := make([]string, 0, len(s.ByOrigin))
	for o := range s.ByOrigin {
		origins = append(origins, string(o))
	}
	sort.Strings(origins)
	if len(origins) > 0 {
		fmt.Fprintln(w, "By origin:")
		for _, o := range origins {
			fmt.Fprintf(w, "  %-13s %d\n", o, s.ByOrigin[model.DecisionOrigin(o)])
		}
	}
}

func init() {
	decisionsCmd.Flags().String("entity", "", "filter by chosen entity ID")
	decisionsCmd.Flags().String("source", "", "filter by source record ID")
	decisionsCmd.Flags().Int("limit", 50, "max number of decisions to display")
	decisionsCmd.Flags().Bool("json", false, "print as JSON")

	statsCmd.Flags().Int("hours", 24, "lookback window in hours, 0 for all time")
	statsCmd.Flags().Bool("json", false, "print as JSON")

	rootCmd.AddCommand(decisionsCmd, statsCmd)
}
