package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"issuelinks/internal/issue"
	"issuelinks/internal/repository"
)

var configureCmd = &cobra.Command{
	Use:   "configure <backend>",
	Short: "Store backend credentials in Redis",
	Long: `Store backend credentials in the Redis key-value store.

Stored values are used whenever the corresponding configuration value
(for example GITLAB_TOKEN) is empty.

  gitlab: --url and --token
  github: --token
  jira:   --url, --user and --token`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigure,
}

// credentials are the values accepted by configure
type credentials struct {
	URL   string
	User  string
	Token string
}

var configureFlags credentials

func init() {
	configureCmd.Flags().StringVar(&configureFlags.URL, "url", "", "Instance or site URL")
	configureCmd.Flags().StringVar(&configureFlags.User, "user", "", "User name or e-mail (Jira)")
	configureCmd.Flags().StringVar(&configureFlags.Token, "token", "", "Access token")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	rdb, err := openRedis(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	return saveCredentials(cmd.Context(), cmd.OutOrStdout(), repository.NewRedisRepository(rdb), issue.Backend(args[0]), configureFlags)
}

// credentialKeys returns the key-value names for each accepted flag of backend
func credentialKeys(backend issue.Backend, c credentials) (map[string]string, error) {
	var keys map[string]string
	switch backend {
	case issue.BackendGitLab:
		keys = map[string]string{"gitlab_url": c.URL, "gitlab_token": c.Token}
	case issue.BackendGitHub:
		keys = map[string]string{"github_token": c.Token}
	case issue.BackendJira:
		keys = map[string]string{"jira_url": c.URL, "jira_user": c.User, "jira_token": c.Token}
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	for name, value := range keys {
		if value == "" {
			delete(keys, name)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no credentials given for %s", backend)
	}
	return keys, nil
}

// saveCredentials stores the given credentials, trimming URLs of trailing slashes
func saveCredentials(ctx context.Context, out io.Writer, store repository.KeyValueStore, backend issue.Backend, c credentials) error {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	c.User = strings.TrimSpace(c.User)
	c.Token = strings.TrimSpace(c.Token)

	keys, err := credentialKeys(backend, c)
	if err != nil {
		return err
	}

	for _, name := range []string{"gitlab_url", "gitlab_token", "github_token", "jira_url", "jira_user", "jira_token"} {
		value, ok := keys[name]
		if !ok {
			continue
		}
		if err := store.SaveKeyValuePair(ctx, name, value); err != nil {
			return fmt.Errorf("failed to save %s: %w", name, err)
		}
		_, _ = fmt.Fprintf(out, "Saved %s\n", name)
	}
	return nil
}
