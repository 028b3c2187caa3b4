package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/entity-resolver/internal/model"
)

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Manage canonical entities",
}

var entityCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a canonical entity",
	Args:  cobra.ExactArgs(1),
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

		e, err := env.Catalog.CreateEntity(ctx, kind, args[0])
		if err != nil {
			return err
		}
		return printJSON(e)
	},
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List canonical entities of a kind",
	RunE: func(cmd *cobra.Command, _ []string) error {
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

		entities, err := env.Catalog.List(ctx, kind)
		if err != nil {
			return err
		}
		if len(entities) == 0 {
			fmt.Fprintln(os.Stderr, "No entities found.")
			return nil
		}
		formatEntities(os.Stdout, entities)
		return nil
	},
}

var entityShowCmd = &cobra.Command{
	Use:   "show <entity-id>",
	Short: "Show an entity with its aliases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		e, err := env.Catalog.Get(ctx, args[0])
		if err != nil {
			return err
		}
		aliases, err := env.Catalog.Aliases(ctx, e.ID)
		if err != nil {
			return err
		}
		return printJSON(struct {
			*model.CanonicalEntity
			Aliases []model.Alias `json:"aliases"`
		}{e, aliases})
	},
}

var entityRenameCmd = &cobra.Command{
	Use:   "rename <entity-id> <new-name>",
	Short: "Change an entity's display name, keeping its ID and history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		e, err := env.Catalog.Rename(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(e)
	},
}

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage entity aliases",
}

var aliasAddCmd = &cobra.Command{
	Use:   "add <entity-id> <raw-text>",
	Short: "Add a manual alias; manual aliases always resolve straight to their entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		a, err := env.Catalog.AddManualAlias(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

var aliasListCmd = &cobra.Command{
	Use:   "list <entity-id>",
	Short: "List an entity's aliases, most used first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		aliases, err := env.Catalog.Aliases(ctx, args[0])
		if err != nil {
			return err
		}
		if len(aliases) == 0 {
			fmt.Fprintln(os.Stderr, "No aliases found.")
			return nil
		}
		formatAliases(os.Stdout, aliases)
		return nil
	},
}

func formatEntities(w io.Writer, entities []model.CanonicalEntity) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tNAME\tKEY")
	for _, e := range entities {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Kind, e.Name, e.NormalizedKey)
	}
	_ = tw.Flush()
}

func formatAliases(w io.Writer, aliases []model.Alias) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKEY\tRAW\tPROVENANCE\tUSAGE\tUPDATED")
	for _, a := range aliases {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			a.ID, a.NormalizedKey, a.RawText, a.Provenance, a.UsageCount, a.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	entityCreateCmd.Flags().String("kind", "", "entity kind: supplier or bank")
	_ = entityCreateCmd.MarkFlagRequired("kind")
	entityListCmd.Flags().String("kind", "", "entity kind: supplier or bank")
	_ = entityListCmd.MarkFlagRequired("kind")

	entityCmd.AddCommand(entityCreateCmd, entityListCmd, entityShowCmd, entityRenameCmd)
	aliasCmd.AddCommand(aliasAddCmd, aliasListCmd)
	rootCmd.AddCommand(entityCmd, aliasCmd)
}
