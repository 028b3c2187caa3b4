package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/entity-resolver/internal/learning"
	"github.com/sells-group/entity-resolver/internal/model"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <raw-name>",
	Short: "Rank canonical entities for a raw name",
	Example: `  entity-resolver resolve "AL-RAJHI" --kind bank
  entity-resolver resolve "Gulf Star Trdg" --kind supplier --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := kindFlag(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Matcher.Resolve(ctx, args[0], kind)
		if err != nil {
			return eris.Wrap(err, "resolve")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		formatCandidates(os.Stdout, list)
		return nil
	},
}

var resolveBatchCmd = &cobra.Command{
	Use:   "resolve-batch [file]",
	Short: "Resolve newline-separated raw names, printing one JSON line each",
	Long: "Reads raw names from a file (or stdin when omitted or \"-\") and resolves them concurrently. " +
		"Output lines keep input order. Blank lines are skipped.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := kindFlag(cmd)
		if err != nil {
			return err
		}

		in := io.Reader(os.Stdin)
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "open input")
			}
			defer f.Close() //nolint:errcheck
			in = f
		}

		names, err := readNames(in)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}

		results := resolveBatch(ctx, env.Matcher, names, kind, concurrency)
		return writeBatch(os.Stdout, results)
	},
}

// batchResult is one resolve-batch output line.
type batchResult struct {
	Line   int                  `json:"line"`
	Raw    string               `json:"raw"`
	Result *model.CandidateList `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// readNames returns the non-blank lines of r with their 1-based line numbers.
func readNames(r io.Reader) ([]batchResult, error) {
	var out []batchResult
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		out = append(out, batchResult{Line: line, Raw: raw})
	}
	return out, eris.Wrap(sc.Err(), "read input")
}

// resolveBatch resolves every name with bounded concurrency. A failed name
// is reported on its own line and never aborts the batch.
func resolveBatch(ctx context.Context, r learning.Resolver, names []batchResult, kind model.EntityKind, concurrency int) []batchResult {
	zap.L().Info("resolving batch",
		zap.Int("names", len(names)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var matched, failed atomic.Int64
	for i := range names {
		g.Go(func() error {
			list, err := r.Resolve(gctx, names[i].Raw, kind)
			if err != nil {
				failed.Add(1)
				names[i].Error = err.Error()
				zap.L().Warn("resolve failed", zap.String("raw", names[i].Raw), zap.Error(err))
				return nil
			}
			if !list.Empty() {
				matched.Add(1)
			}
			names[i].Result = list
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("batch complete",
		zap.Int64("matched", matched.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return names
}

func writeBatch(w io.Writer, results []batchResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "write result")
		}
	}
	return nil
}

func formatCandidates(w io.Writer, list *model.CandidateList) {
	if list.Empty() {
		fmt.Fprintf(w, "No candidates for %q (key %q). Create a new entity with: entity-resolver entity create\n",
			list.RawInput, list.NormalizedKey)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTIER\tCONF\tORIGIN\tENTITY\tID\tMATCHED")
	for _, c := range list.Candidates {
		fmt.Fprintf(tw, "%d\t%s\t%.1f\t%s\t%s\t%s\t%s\n",
			c.Rank, c.Tier, c.Confidence, c.Origin, c.EntityName, c.EntityID, c.MatchedKey)
	}
	_ = tw.Flush()
}

func kindFlag(cmd *cobra.Command) (model.EntityKind, error) {
	s, _ := cmd.Flags().GetString("kind")
	return model.ParseEntityKind(s)
}

func init() {
	resolveCmd.Flags().String("kind", "", "entity kind: supplier or bank")
	resolveCmd.Flags().Bool("json", false, "print the full candidate list as JSON")
	_ = resolveCmd.MarkFlagRequired("kind")

	resolveBatchCmd.Flags().String("kind", "", "entity kind: supplier or bank")
	resolveBatchCmd.Flags().Int("concurrency", 0, "parallel resolves (default from config)")
	_ = resolveBatchCmd.MarkFlagRequired("kind")

	rootCmd.AddCommand(resolveCmd, resolveBatchCmd)
}
