package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// checkpointStats is what inspect reports about a stored checkpoint.
type checkpointStats struct {
	RunID        string    `json:"run_id"`
	Pending      int       `json:"pending"`
	Visited      int       `json:"visited"`
	Results      int       `json:"results"`
	PagesFetched int       `json:"pages_fetched"`
	SavedAt      time.Time `json:"saved_at"`
}

func newInspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Prints statistics about the stored checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspectCommand(cmd, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the statistics as JSON")
	return cmd
}

func runInspectCommand(cmd *cobra.Command, asJSON bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	snap, err := appInstance.GetStateStore().Load(cmd.Context())
	if errors.Is(err, crawler.ErrNoCheckpoint) {
		fmt.Fprintln(cmd.OutOrStdout(), "no checkpoint found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	stats := checkpointStats{
		RunID:        snap.RunID,
		Pending:      len(snap.Pending),
		Visited:      len(snap.Visited),
		Results:      len(snap.Results),
		PagesFetched: snap.PagesFetched,
		SavedAt:      snap.SavedAt,
	}
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Fprintf(out, "run_id:        %s\n", stats.RunID)
	fmt.Fprintf(out, "saved_at:      %s\n", stats.SavedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "pages_fetched: %d\n", stats.PagesFetched)
	fmt.Fprintf(out, "results:       %d\n", stats.Results)
	fmt.Fprintf(out, "visited:       %d\n", stats.Visited)
	fmt.Fprintf(out, "pending:       %d\n", stats.Pending)
	return nil
}
