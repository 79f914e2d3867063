package store

import (
	"context"
	"fmt"
	"strings"
)

// EnsureSchema creates missing tables and indexes. It never alters existing ones.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func (s *Store) timestampType() string {
	if s.dialect == Postgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

func (s *Store) schema() []string {
	ts := s.timestampType()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS cost_records (
	resource_id  TEXT NOT NULL,
	period_key   TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	service      TEXT NOT NULL DEFAULT '',
	services     TEXT NOT NULL DEFAULT '',
	amount       DOUBLE PRECISION NOT NULL,
	currency     TEXT NOT NULL DEFAULT '',
	is_complete  BOOLEAN NOT NULL DEFAULT FALSE,
	last_updated %s NOT NULL,
	PRIMARY KEY (resource_id, period_key)
)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_cost_records_user_period ON cost_records (user_id, period_key)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS cost_periods (
	user_id    TEXT NOT NULL,
	period_key TEXT NOT NULL,
	state      TEXT NOT NULL,
	updated_at %s NOT NULL,
	PRIMARY KEY (user_id, period_key)
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS metric_samples (
	resource_id      TEXT NOT NULL,
	metric_name      TEXT NOT NULL,
	aggregation_kind TEXT NOT NULL,
	period_start     %[1]s NOT NULL,
	user_id          TEXT NOT NULL,
	resource_type    TEXT NOT NULL,
	period_end       %[1]s NOT NULL,
	value            DOUBLE PRECISION NOT NULL,
	fetched_at       %[1]s NOT NULL,
	PRIMARY KEY (resource_id, metric_name, aggregation_kind, period_start)
)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_metric_samples_period_start ON metric_samples (period_start)`,
	}

	for _, fam := range familyOrder {
		t := tables[fam]
		stmts = append(stmts, t.createTable(ts),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_user ON %[1]s (user_id, is_deleted)`, t.name))
	}
	return stmts
}

func (t familyTable) createTable(ts string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.name)
	fmt.Fprintf(&b, "\tid              TEXT PRIMARY KEY,\n")
	fmt.Fprintf(&b, "\tuser_id         TEXT NOT NULL,\n")
	fmt.Fprintf(&b, "\tcompartment_id  TEXT NOT NULL DEFAULT '',\n")
	fmt.Fprintf(&b, "\tdisplay_name    TEXT NOT NULL DEFAULT '',\n")
	fmt.Fprintf(&b, "\tlifecycle_state TEXT NOT NULL DEFAULT '',\n")
	fmt.Fprintf(&b, "\tregion          TEXT NOT NULL DEFAULT '',\n")
	fmt.Fprintf(&b, "\ttime_created    %s,\n", ts)
	fmt.Fprintf(&b, "\tlast_seen       %s NOT NULL,\n", ts)
	fmt.Fprintf(&b, "\tis_deleted      BOOLEAN NOT NULL DEFAULT FALSE")
	for _, c := range t.columns {
		fmt.Fprintf(&b, ",\n\t%s %s", c.name, c.ddl)
	}
	b.WriteString("\n)")
	return b.String()
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
