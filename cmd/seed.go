package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Import canonical entities and manual aliases from YAML",
	Long: `Imports a seed file of the form:

  entities:
    - name: Alinma Bank
      kind: bank
      aliases: ["مصرف الإنماء", "INMA"]

Re-running a seed is safe: existing entities are reused and known manual
aliases are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open seed file")
		}
		defer f.Close() //nolint:errcheck

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Catalog.Seed(ctx, f)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
