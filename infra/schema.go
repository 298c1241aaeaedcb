package infra

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Migrate creates the infrastructure table and one table per object kind when
// they do not exist yet. Child tables cascade on infrastructure deletion and
// keep object ids unique per infrastructure.
func (s *Service) Migrate(ctx context.Context) error {
	return s.pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewCreateTable().Model((*Infra)(nil)).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create infra table: %w", err)
		}

		for _, store := range s.objects {
			table := store.table()
			_, err := tx.NewCreateTable().
				Model(store.model()).
				IfNotExists().
				ForeignKey(`("infra_id") REFERENCES "osrd_infra_infra" ("id") ON DELETE CASCADE`).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("create %s table: %w", table, err)
			}

			_, err = tx.NewCreateIndex().
				Model(store.model()).
				Index(table + "_infra_obj_key").
				Unique().
				IfNotExists().
				Column("infra_id", "obj_id").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("create %s index: %w", table, err)
			}
		}

		s.logger.Debug("schema ready", "tables", len(s.objects)+1)
		return nil
	})
}
