package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/relay/internal/admin"
	"github.com/matheus3301/relay/internal/paths"
)

var (
	flagProfile string
	flagJSON    bool
	flagSince   int64
)

var rootCmd = &cobra.Command{
	Use:          "relayctl",
	Short:        "Inspect a running relayd over its admin socket",
	SilenceUsage: true,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay status",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *admin.Client) error {
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if flagJSON {
			return outputJSON(st)
		}
		persist := "memory only"
		if st.HistoryPersistent {
			persist = "persistent"
		}
		fmt.Printf("Profile:     %s\n", st.Profile)
		fmt.Printf("Uptime:      %s\n", st.Uptime.Truncate(time.Second))
		fmt.Printf("Online:      %d\n", st.Online)
		fmt.Printf("Connections: %d\n", st.Connections)
		fmt.Printf("History:     %d messages (%s, %s)\n", st.HistoryLen, st.HistoryBackend, persist)
		return nil
	}),
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, including those inside their grace window",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *admin.Client) error {
		sessions, err := c.Sessions(ctx)
		if err != nil {
			return err
		}
		if flagJSON {
			return outputJSON(sessions)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "USER\tSTATUS\tCONNECTED\tLAST SEEN")
		for _, s := range sessions {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.Username, s.Status, s.Connected, s.LastSeen.Format(time.TimeOnly))
		}
		return w.Flush()
	}),
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Print one page of history after --since (unix ms)",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *admin.Client) error {
		records, err := c.MessagesSince(ctx, flagSince)
		if err != nil {
			return err
		}
		if flagJSON {
			return outputJSON(records)
		}
		for _, r := range records {
			fmt.Printf("%s  %-16s %s\n", time.UnixMilli(r.Timestamp).Format(time.DateTime), r.Author, r.Text)
		}
		return nil
	}),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	messagesCmd.Flags().Int64Var(&flagSince, "since", 0, "only messages newer than this unix millisecond timestamp")
	rootCmd.AddCommand(statusCmd, sessionsCmd, messagesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withClient(fn func(context.Context, *admin.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		profile := paths.ResolveProfile(flagProfile)
		if err := paths.ValidateProfile(profile); err != nil {
			return err
		}
		c, err := admin.Dial(paths.SocketPath(profile))
		if err != nil {
			return fmt.Errorf("cannot reach relayd for profile %q: %w", profile, err)
		}
		defer func() { _ = c.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		return fn(ctx, c)
	}
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
