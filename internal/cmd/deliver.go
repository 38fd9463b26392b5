package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"issuelinks/internal/issue"
	"issuelinks/internal/middleware"
	"issuelinks/internal/repository"
	"issuelinks/internal/service"
)

const deliveryAttempts = 3

// deliveryBackoff is the wait before the second attempt; it doubles after that
var deliveryBackoff = time.Second

var deliverCmd = &cobra.Command{
	Use:   "deliver <backend> <project> <payload.json>",
	Short: "Send a signed test delivery to a running server",
	Long: `Sign a webhook payload with the stored secret of a project and post it
to the /webhook endpoint of a running server, the way the backend would.

Useful to check a deployment end to end after registering a hook.`,
	Args: cobra.ExactArgs(3),
	RunE: runDeliver,
}

var (
	deliverEndpoint string
	deliverEvent    string
)

func init() {
	deliverCmd.Flags().StringVar(&deliverEndpoint, "endpoint", "http://localhost:8080", "Base URL of the server")
	deliverCmd.Flags().StringVar(&deliverEvent, "event", "issues", "X-GitHub-Event value (github only)")
	rootCmd.AddCommand(deliverCmd)
}

func runDeliver(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	body, err := os.ReadFile(args[2])
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	rdb, err := openRedis(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	backend, project := issue.Backend(args[0]), args[1]
	header, err := signedHeader(cmd.Context(), repository.NewRedisRepository(rdb), backend, project, deliverEvent, body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: cfg.HTTPTimeout()}
	status, message, err := sendDelivery(cmd.Context(), client, deliverEndpoint, header, body)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", status, message)
	if status < 200 || status >= 300 {
		return fmt.Errorf("delivery answered with status %d", status)
	}
	return nil
}

// signedHeader builds the headers backend would send for body
func signedHeader(ctx context.Context, store repository.WebhookStore, backend issue.Backend, project, event string, body []byte) (http.Header, error) {
	secrets, err := store.GetWebhookSecrets(ctx, backend, project)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook secrets: %w", err)
	}
	if len(secrets) == 0 {
		return nil, fmt.Errorf("no webhook registered for %s %s", backend, project)
	}
	secret := secrets[0]

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(middleware.RequestIDHeader, uuid.NewString())

	switch backend {
	case issue.BackendGitLab:
		header.Set("X-Gitlab-Token", secret)
	case issue.BackendGitHub:
		header.Set("X-GitHub-Event", event)
		header.Set("X-GitHub-Delivery", uuid.NewString())
		header.Set("X-Hub-Signature-256", service.Sign(body, secret))
	case issue.BackendJira:
		header.Set("X-Atlassian-Webhook-Identifier", uuid.NewString())
		header.Set("X-Hub-Signature", service.Sign(body, secret))
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	return header, nil
}

// sendDelivery posts the delivery, retrying network failures and 5xx answers
// with exponential backoff. 4xx answers are final.
func sendDelivery(ctx context.Context, client *http.Client, endpoint string, header http.Header, body []byte) (int, string, error) {
	target := strings.TrimRight(endpoint, "/") + "/webhook"
	backoff := deliveryBackoff

	var lastErr error
	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		if attempt > 1 {
			slog.Debug("Retrying delivery", "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return 0, "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return 0, "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header = header.Clone()

		resp, err := client.Do(req)
		if err != nil {
			slog.Warn("Delivery failed", "attempt", attempt, "error", err)
			lastErr = err
			continue
		}

		message, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 && attempt < deliveryAttempts {
			slog.Warn("Delivery answered with server error", "attempt", attempt, "status", resp.StatusCode)
			continue
		}
		return resp.StatusCode, strings.TrimSpace(string(message)), nil
	}

	return 0, "", fmt.Errorf("delivery failed after %d attempts: %w", deliveryAttempts, lastErr)
}
