package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/entity-resolver/internal/learning"
)

var recordCmd = &cobra.Command{
	Use:   "record <raw-name>",
	Short: "Record the entity chosen for a raw name",
	Long: "Records a final choice. When --top names a different entity the top suggestion is rejected " +
		"for this spelling. The decision is always logged; if only the learning updates fail, a warning " +
		"is printed and the command still succeeds.",
	Example: `  entity-resolver record "Gulf S." --kind supplier --chosen <id> --top <id> --source INV-1042`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := kindFlag(cmd)
		if err != nil {
			return err
		}
		chosen, _ := cmd.Flags().GetString("chosen")
		top, _ := cmd.Flags().GetString("top")
		source, _ := cmd.Flags().GetString("source")

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Coordinator.Record(ctx, learning.Decision{
			RawName:               args[0],
			Kind:                  kind,
			ChosenEntityID:        chosen,
			TopSuggestionEntityID: top,
			SourceRecordID:        source,
		})
		if err != nil {
			if !learning.IsIncomplete(err) || out == nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "warning: decision saved but learning was incomplete: %v\n", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	recordCmd.Flags().String("kind", "", "entity kind: supplier or bank")
	recordCmd.Flags().String("chosen", "", "ID of the entity the user chose")
	recordCmd.Flags().String("top", "", "ID of the top suggestion shown, empty if none")
	recordCmd.Flags().String("source", "", "ID of the business record the name came from")
	_ = recordCmd.MarkFlagRequired("kind")
	_ = recordCmd.MarkFlagRequired("chosen")
	_ = recordCmd.MarkFlagRequired("source")

	rootCmd.AddCommand(recordCmd)
}
