package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quizbot/internal/catalog"
	"quizbot/internal/config"
	"quizbot/internal/infra/postgres"
	pgmigrations "quizbot/internal/infra/postgres/migrations"
)

// NewMigrateCmd applies the catalog schema and optionally seeds it from a file.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var seed string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run catalog database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := runMigrationsWithConfig(cmd.Context(), cfg, log); err != nil {
				return err
			}
			if seed == "" {
				return nil
			}
			return seedCatalog(cmd.Context(), cfg, log, seed)
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "replace the stored catalog with this quiz file")
	return cmd
}

func runMigrationsWithConfig(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	log.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("component", "db.migrate"),
		slog.String("event", "migrations.applied"),
		slog.String("group", group.String()),
	)
	return nil
}

func seedCatalog(ctx context.Context, cfg *config.Config, log *slog.Logger, path string) error {
	cat, err := catalog.NewFileLoader(path).LoadCatalog(ctx)
	if err != nil {
		return err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.NewCatalogLoader(pool).ReplaceCatalog(ctx, cat); err != nil {
		return err
	}
	log.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("component", "db.seed"),
		slog.String("event", "catalog.seeded"),
		slog.Int("quizzes", len(cat.Quizzes)),
	)
	return nil
}
