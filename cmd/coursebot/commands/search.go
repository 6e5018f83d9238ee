package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"coursebot/internal/chat"
	"coursebot/internal/client"
)

func newSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Rank course passages for a query against a running server",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
	addClientFlags(cmd)
	cmd.Flags().Int("limit", 10, "Maximum number of passages")
	cmd.Flags().Bool("full", false, "Print each passage's whole text instead of a snippet")
	return cmd
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "Server base URL (defaults to the configured listen address)")
	cmd.Flags().String("module", "", "Restrict to a course module")
	cmd.Flags().String("chapter", "", "Restrict to a chapter")
	cmd.Flags().Duration("timeout", 90*time.Second, "Request timeout")
}

func newClient(cmd *cobra.Command, addr string) *client.Client {
	base, _ := cmd.Flags().GetString("server")
	if base == "" {
		base = serverURL(addr)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(base, timeout)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	module, _ := cmd.Flags().GetString("module")
	chapter, _ := cmd.Flags().GetString("chapter")
	limit, _ := cmd.Flags().GetInt("limit")
	full, _ := cmd.Flags().GetBool("full")

	c := newClient(cmd, cfg.Server.Addr)
	results, err := c.Search(cmd.Context(), chat.SearchRequest{
		Query:         strings.Join(args, " "),
		ModuleFilter:  module,
		ChapterFilter: chapter,
		Limit:         limit,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		_, err := fmt.Fprintln(out, "No matching course content.")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tRELEVANCE\tMODULE\tCHAPTER\tTITLE")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%.3f\t%s\t%s\t%s\n", i+1, r.Relevance, r.Module, r.Chapter, r.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for i, r := range results {
		text := r.Content
		if full {
			whole, err := c.Content(cmd.Context(), r.ID)
			if err != nil {
				return err
			}
			text = whole.Content
		}
		fmt.Fprintf(out, "\n[%d] %s\n%s\n", i+1, r.ID, text)
	}
	return nil
}
