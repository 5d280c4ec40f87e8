package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizbot/internal/catalog"
	"quizbot/internal/domain"
)

// CatalogLoader reads the quiz catalog from the quizzes table. Questions are
// stored as a JSONB array so their order survives the round trip.
type CatalogLoader struct {
	pool *pgxpool.Pool
}

func NewCatalogLoader(pool *pgxpool.Pool) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

func (l *CatalogLoader) LoadCatalog(ctx context.Context) (domain.Catalog, error) {
	rows, err := l.pool.Query(ctx, `SELECT name, questions FROM quizzes ORDER BY position`)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()

	var cat domain.Catalog
	for rows.Next() {
		var (
			name string
			raw  []byte
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return domain.Catalog{}, fmt.Errorf("scan quiz: %w", err)
		}
		quiz := domain.Quiz{Name: name}
		if err := json.Unmarshal(raw, &quiz.Questions); err != nil {
			return domain.Catalog{}, fmt.Errorf("%w: quiz %q: %v", domain.ErrInvalidCatalog, name, err)
		}
		cat.Quizzes = append(cat.Quizzes, quiz)
	}
	if err := rows.Err(); err != nil {
		return domain.Catalog{}, fmt.Errorf("load catalog: %w", err)
	}
	if err := catalog.Validate(cat); err != nil {
		return domain.Catalog{}, err
	}
	return cat, nil
}

// ReplaceCatalog swaps the stored catalog for cat in one transaction.
func (l *CatalogLoader) ReplaceCatalog(ctx context.Context, cat domain.Catalog) error {
	if err := catalog.Validate(cat); err != nil {
		return err
	}
	return l.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM quizzes`); err != nil {
			return fmt.Errorf("clear quizzes: %w", err)
		}
		for i, quiz := range cat.Quizzes {
			raw, err := json.Marshal(quiz.Questions)
			if err != nil {
				return fmt.Errorf("encode quiz %q: %w", quiz.Name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO quizzes (position, name, questions) VALUES ($1, $2, $3::jsonb)`,
				i, quiz.Name, string(raw)); err != nil {
				return fmt.Errorf("insert quiz %q: %w", quiz.Name, err)
			}
		}
		return nil
	})
}

var _ catalog.Loader = (*CatalogLoader)(nil)
