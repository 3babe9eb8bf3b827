package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/policy"
	"github.com/cryguy/swkit/internal/transport"
)

var (
	pushURL         string
	pushSkipWaiting bool
	pushUpdate      bool
	pushOffline     string
	pushTimeout     time.Duration
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Send commands to a running server",
	Long: `Connect to a running server's control endpoint and send the
configured cache policies, plus any extra commands given by flag.

Examples:
  # Push the policies from the config file
  swkit push

  # Check for a new script and activate it
  swkit push --update --skip-waiting`,
	RunE: runPush,
}

func init() {
	pushCmd.Flags().StringVar(&pushURL, "url", "", "control endpoint (default: derived from server.addr and server.control_path)")
	pushCmd.Flags().BoolVar(&pushSkipWaiting, "skip-waiting", false, "activate a waiting worker")
	pushCmd.Flags().BoolVar(&pushUpdate, "update", false, "check for a new service worker script")
	pushCmd.Flags().StringVar(&pushOffline, "offline-path", "", "set the offline fallback path")
	pushCmd.Flags().DurationVar(&pushTimeout, "timeout", 10*time.Second, "connection timeout")
}

func runPush(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := policy.NewStore()
	if err := cfg.ApplyPolicies(store); err != nil {
		return err
	}

	url := pushURL
	if url == "" {
		host := cfg.Server.Addr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		url = "ws://" + host + cfg.Server.ControlPath
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), pushTimeout)
	defer cancel()
	port, err := transport.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = port.Close() }()

	msgs := []core.Message{{Type: core.MessageSetCachePolicies, Policies: store.ExportForTransport()}}
	if pushOffline != "" {
		msgs = append(msgs, core.Message{Type: core.MessageSetOfflineFallbackPath, Path: pushOffline})
	}
	if pushUpdate {
		msgs = append(msgs, core.Message{Type: core.MessageUpdate})
	}
	if pushSkipWaiting {
		msgs = append(msgs, core.Message{Type: core.MessageSkipWaiting})
	}
	for _, msg := range msgs {
		if err := port.PostMessage(ctx, msg); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %d command(s) to %s\n", len(msgs), url)
	return nil
}
