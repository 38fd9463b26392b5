package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"issuelinks/internal/client"
	"issuelinks/internal/issue"
	"issuelinks/internal/repository"
	"issuelinks/internal/service"
)

var syncCmd = &cobra.Command{
	Use:   "sync <backend> <project>",
	Short: "Import every issue and merge request of a project",
	Long: `Import every issue and merge request of a project into the store.

The import resumes from the last completed page when a previous run was
interrupted. Use --restart to start over from the first page.`,
	Args: cobra.ExactArgs(2),
	RunE: runSync,
}

var (
	syncRestart bool // Discard the stored cursor
)

func init() {
	syncCmd.Flags().BoolVar(&syncRestart, "restart", false, "Ignore the stored cursor and import from the first page")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisRepo := repository.NewRedisRepository(rdb)
	registry := service.NewRegistry(cfg, client.NewHTTPClient(cfg), redisRepo)

	svc, err := registry.Get(issue.Backend(args[0]))
	if err != nil {
		return err
	}

	return importProject(ctx, cmd.OutOrStdout(), svc, redisRepo, args[1], syncRestart)
}

// importProject checks the backend credentials and runs the import,
// printing one line per page
func importProject(ctx context.Context, out io.Writer, svc service.Service, cursors repository.CursorStore, project string, restart bool) error {
	if !svc.IsConfigured(ctx) {
		return fmt.Errorf("%s is not configured: %s", svc.Backend(), svc.ConfigError())
	}
	_, _ = fmt.Fprintf(out, "Importing %s from %s as %s\n", project, svc.Backend(), svc.UserString())

	if restart {
		if err := cursors.ClearSyncCursor(ctx, svc.Backend(), project); err != nil {
			return fmt.Errorf("failed to reset sync cursor: %w", err)
		}
	}

	result, err := service.NewImporter(cursors).Import(ctx, svc, project, func(page *service.ImportPage) {
		_, _ = fmt.Fprintf(out, "  page done: %d imported, %d skipped, next cursor %d of ~%d\n",
			page.Imported, page.Skipped, page.NextCursor, page.Estimate)
	})
	if err != nil {
		if result != nil && result.Cursor > 0 {
			_, _ = fmt.Fprintf(out, "Stopped at cursor %d; run sync again to resume\n", result.Cursor)
		}
		return err
	}

	_, _ = fmt.Fprintf(out, "Imported %d issues (%d skipped) in %d pages\n", result.Imported, result.Skipped, result.Pages)
	return nil
}
