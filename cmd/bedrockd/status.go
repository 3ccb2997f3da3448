package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/loykin/bedrockd/pkg/client"
)

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	URL     string
	Timeout time.Duration
	JSON    bool
}

func createStatusCommand() *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running bedrockd",
		Long: `Query the HTTP status endpoint of a running bedrockd and print a summary.

Examples:
  bedrockd status
  bedrockd status --url http://minecraft.local:3000 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusCommand(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.URL, "url", client.DefaultBaseURL, "bedrockd HTTP base URL")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print the raw JSON status")
	return cmd
}

func runStatusCommand(ctx context.Context, out io.Writer, flags *StatusFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c := client.New(client.Config{BaseURL: flags.URL, Timeout: flags.Timeout})
	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("query %s: %w", flags.URL, err)
	}
	if flags.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	_, err = fmt.Fprintln(out, formatStatus(st))
	return err
}

// formatStatus renders e.g. "online: 3/10 players, up About an hour".
func formatStatus(st client.Status) string {
	line := fmt.Sprintf("%s: %d/%d players", st.Status, st.Players, st.MaxPlayers)
	if d, ok := parseUptime(st.Uptime); ok {
		line += ", up " + units.HumanDuration(d)
	}
	return line
}

// parseUptime reads the "<h>h <m>m" form served by the endpoint.
func parseUptime(s string) (time.Duration, bool) {
	d, err := time.ParseDuration(strings.ReplaceAll(s, " ", ""))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
