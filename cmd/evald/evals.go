package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/kalambet/evald/internal/evaluation"
	"github.com/kalambet/evald/internal/storage"
)

var evalsCmd = &cobra.Command{
	Use:   "evals",
	Short: "Browse stored evaluations",
}

var evalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored evaluations",
	Long: `List stored evaluations.

Examples:
  evald evals list --query "kubernetes" --limit 20
  evald evals list --sort llm_correctness --order desc`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var q storage.Query
		q.UserQuery, _ = cmd.Flags().GetString("query")
		q.LLMResponse, _ = cmd.Flags().GetString("response")
		q.SortField, _ = cmd.Flags().GetString("sort")
		q.SortOrder, _ = cmd.Flags().GetString("order")
		q.Skip, _ = cmd.Flags().GetInt("skip")
		q.Limit, _ = cmd.Flags().GetInt("limit")

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := store.ListEvaluations(q)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No evaluations found.")
			return nil
		}
		return renderEvalList(os.Stdout, rows)
	},
}

var evalsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show every score of one evaluation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid id %q: must be a positive integer", args[0])
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		e, err := store.GetEvaluation(id)
		if err != nil {
			return fmt.Errorf("evaluation %d: %w", id, err)
		}
		return renderEvalDetail(os.Stdout, e)
	},
}

func init() {
	evalsListCmd.Flags().String("query", "", "substring to match in the user query")
	evalsListCmd.Flags().String("response", "", "substring to match in the model response")
	evalsListCmd.Flags().String("sort", "id", "sort field: id or a score column")
	evalsListCmd.Flags().String("order", "asc", "sort order: asc or desc")
	evalsListCmd.Flags().Int("skip", 0, "rows to skip")
	evalsListCmd.Flags().Int("limit", storage.DefaultLimit, "maximum rows to show")
	evalsCmd.AddCommand(evalsListCmd)
	evalsCmd.AddCommand(evalsShowCmd)
}

func openStore(ctx context.Context) (*storage.Store, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DBFile)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func newTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleLight),
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func renderEvalList(w io.Writer, rows []storage.Evaluation) error {
	table := newTable([]string{"ID", "Created", "Model", "Query", "Relevance", "Judge Avg"}, w)
	for _, e := range rows {
		if err := table.Append([]string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.Format("2006-01-02 15:04"),
			e.Model,
			truncate(e.UserQuery, 48),
			formatScore(e.Human.Relevance),
			formatScore(mean(e.LLM)),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderEvalDetail(w io.Writer, e storage.Evaluation) error {
	fmt.Fprintf(w, "%s %d  %s  %s\n", colorize(colorBold, "Evaluation"), e.ID, e.Model, e.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Session:"), e.SessionID)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Query:"), e.UserQuery)
	fmt.Fprintf(w, "%s %s\n\n", colorize(colorBold, "Response:"), truncate(e.LLMResponse, 400))

	table := newTable([]string{"Dimension", "Human", "LLM"}, w)
	human, llm := e.Human.Values(), e.LLM.Values()
	for i, dim := range evaluation.Dimensions {
		if err := table.Append([]string{dim, formatScore(human[i]), formatScore(llm[i])}); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func mean(v evaluation.ScoreVector) float64 {
	var sum float64
	vals := v.Values()
	for _, x := range vals {
		sum += x
	}
	return sum / float64(len(vals))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
