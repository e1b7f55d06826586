package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/gatefetch/pkg/config"
	"github.com/Sternrassler/gatefetch/pkg/novel"
)

var (
	flagPage     int
	flagRanking  string
	flagGenre    string
	flagModifier string
)

var searchCmd = &cobra.Command{
	Use:   "search [term]",
	Short: "List novels from the search pages",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		term := ""
		if len(args) == 1 {
			term = args[0]
		}
		return withComponents(cmd.Context(), func(ctx context.Context, c *config.Components) error {
			items, err := c.Site.SearchNovels(ctx, term, flagPage)
			if err != nil {
				return err
			}
			return printItems(cmd, items)
		})
	},
}

var popularCmd = &cobra.Command{
	Use:   "popular",
	Short: "List novels from the ranking pages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filters := novel.DefaultFilters()
		if flagRanking != "" {
			filters.Ranking = flagRanking
		}
		if flagModifier != "" {
			filters.Modifier = flagModifier
		}
		filters.Genre = flagGenre
		return withComponents(cmd.Context(), func(ctx context.Context, c *config.Components) error {
			items, err := c.Site.PopularNovels(ctx, flagPage, filters)
			if err != nil {
				return err
			}
			return printItems(cmd, items)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{searchCmd, popularCmd} {
		cmd.Flags().IntVar(&flagPage, "page", 1, "result page")
	}
	popularCmd.Flags().StringVar(&flagRanking, "ranking", "", "ranking period (daily, weekly, monthly, quarter, yearly, total)")
	popularCmd.Flags().StringVar(&flagGenre, "genre", "", "genre code")
	popularCmd.Flags().StringVar(&flagModifier, "modifier", "", "publication filter (total, r, er, t)")
	rootCmd.AddCommand(searchCmd, popularCmd)
}

func printItems(cmd *cobra.Command, items []novel.Item) error {
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		printWarning(cmd.ErrOrStderr(), "no novels found")
		return nil
	}
	rows := make([][]string, 0, len(items))
	for i, item := range items {
		rows = append(rows, []string{strconv.Itoa(i + 1), item.Name, item.Path})
	}
	return printTable(out, []string{"#", "Name", "Path"}, rows)
}
