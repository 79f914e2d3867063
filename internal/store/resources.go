package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

// KnownResource is what reconciliation needs to know about a stored resource
type KnownResource struct {
	CompartmentID string
	Deleted       bool
}

// ResourceCount is the number of active and soft-deleted rows per user and family
type ResourceCount struct {
	User    string
	Family  provider.Family
	Active  int
	Deleted int
}

type column struct {
	name string
	ddl  string
}

// familyTable maps one family onto its table. values and scan must list the
// family columns in the same order as columns.
type familyTable struct {
	name    string
	columns []column
	values  func(d provider.Details) []any
	scan    func() ([]any, func() provider.Details)
}

var envelopeColumns = []string{
	"id", "user_id", "compartment_id", "display_name", "lifecycle_state",
	"region", "time_created", "last_seen", "is_deleted",
}

var familyOrder = provider.Families

var tables = map[provider.Family]familyTable{
	provider.FamilyCompartment: {
		name:    "compartments",
		columns: []column{{"description", "TEXT NOT NULL DEFAULT ''"}},
		values: func(d provider.Details) []any {
			c, _ := d.(provider.CompartmentDetails)
			return []any{c.Description}
		},
		scan: func() ([]any, func() provider.Details) {
			var c provider.CompartmentDetails
			return []any{&c.Description}, func() provider.Details { return c }
		},
	},
	provider.FamilyComputeInstance: {
		name: "compute_instances",
		columns: []column{
			{"shape", "TEXT NOT NULL DEFAULT ''"},
			{"availability_domain", "TEXT NOT NULL DEFAULT ''"},
			{"ocpus", "DOUBLE PRECISION"},
			{"memory_gb", "DOUBLE PRECISION"},
		},
		values: func(d provider.Details) []any {
			c, _ := d.(provider.ComputeDetails)
			return []any{c.Shape, c.AvailabilityDomain, nullFloat(c.OCPUs), nullFloat(c.MemoryGB)}
		},
		scan: func() ([]any, func() provider.Details) {
			var c provider.ComputeDetails
			return []any{&c.Shape, &c.AvailabilityDomain, &c.OCPUs, &c.MemoryGB}, func() provider.Details { return c }
		},
	},
	provider.FamilyVolume: {
		name: "volumes",
		columns: []column{
			{"availability_domain", "TEXT NOT NULL DEFAULT ''"},
			{"size_gb", "BIGINT"},
			{"vpus_per_gb", "BIGINT"},
		},
		values: func(d provider.Details) []any {
			v, _ := d.(provider.VolumeDetails)
			return []any{v.AvailabilityDomain, nullInt(v.SizeGB), nullInt(v.VPUsPerGB)}
		},
		scan: func() ([]any, func() provider.Details) {
			var v provider.VolumeDetails
			return []any{&v.AvailabilityDomain, &v.SizeGB, &v.VPUsPerGB}, func() provider.Details { return v }
		},
	},
	provider.FamilyBucket: {
		name: "buckets",
		columns: []column{
			{"namespace", "TEXT NOT NULL DEFAULT ''"},
			{"name", "TEXT NOT NULL DEFAULT ''"},
			{"created_by", "TEXT NOT NULL DEFAULT ''"},
		},
		values: func(d provider.Details) []any {
			b, _ := d.(provider.BucketDetails)
			return []any{b.Namespace, b.Name, b.CreatedBy}
		},
		scan: func() ([]any, func() provider.Details) {
			var b provider.BucketDetails
			return []any{&b.Namespace, &b.Name, &b.CreatedBy}, func() provider.Details { return b }
		},
	},
	provider.FamilyFileSystem: {
		name: "file_systems",
		columns: []column{
			{"availability_domain", "TEXT NOT NULL DEFAULT ''"},
			{"metered_bytes", "BIGINT"},
		},
		values: func(d provider.Details) []any {
			f, _ := d.(provider.FileSystemDetails)
			return []any{f.AvailabilityDomain, nullInt(f.MeteredBytes)}
		},
		scan: func() ([]any, func() provider.Details) {
			var f provider.FileSystemDetails
			return []any{&f.AvailabilityDomain, &f.MeteredBytes}, func() provider.Details { return f }
		},
	},
	provider.FamilyDatabase: {
		name: "db_systems",
		columns: []column{
			{"shape", "TEXT NOT NULL DEFAULT ''"},
			{"edition", "TEXT NOT NULL DEFAULT ''"},
			{"availability_domain", "TEXT NOT NULL DEFAULT ''"},
			{"cpu_cores", "BIGINT"},
			{"storage_gb", "BIGINT"},
		},
		values: func(d provider.Details) []any {
			db, _ := d.(provider.DatabaseDetails)
			return []any{db.Shape, db.Edition, db.AvailabilityDomain, nullInt(db.CPUCores), nullInt(db.StorageGB)}
		},
		scan: func() ([]any, func() provider.Details) {
			var db provider.DatabaseDetails
			return []any{&db.Shape, &db.Edition, &db.AvailabilityDomain, &db.CPUCores, &db.StorageGB},
				func() provider.Details { return db }
		},
	},
	provider.FamilyManagedPostgres: {
		name:    "postgres_db_systems",
		columns: []column{{"shape", "TEXT NOT NULL DEFAULT ''"}},
		values: func(d provider.Details) []any {
			p, _ := d.(provider.PostgresDetails)
			return []any{p.Shape}
		},
		scan: func() ([]any, func() provider.Details) {
			var p provider.PostgresDetails
			return []any{&p.Shape}, func() provider.Details { return p }
		},
	},
	provider.FamilyLoadBalancer: {
		name: "load_balancers",
		columns: []column{
			{"shape", "TEXT NOT NULL DEFAULT ''"},
			{"is_private", "BOOLEAN NOT NULL DEFAULT FALSE"},
			{"min_bandwidth_mbps", "BIGINT"},
			{"max_bandwidth_mbps", "BIGINT"},
		},
		values: func(d provider.Details) []any {
			lb, _ := d.(provider.LoadBalancerDetails)
			return []any{lb.Shape, lb.IsPrivate, nullInt(lb.MinBandwidthMbps), nullInt(lb.MaxBandwidthMbps)}
		},
		scan: func() ([]any, func() provider.Details) {
			var lb provider.LoadBalancerDetails
			return []any{&lb.Shape, &lb.IsPrivate, &lb.MinBandwidthMbps, &lb.MaxBandwidthMbps},
				func() provider.Details { return lb }
		},
	},
}

func tableFor(family provider.Family) (familyTable, error) {
	t, ok := tables[family]
	if !ok {
		return familyTable{}, fmt.Errorf("unknown resource family %q", family)
	}
	return t, nil
}

func (t familyTable) columnNames() []string {
	names := append([]string(nil), envelopeColumns...)
	for _, c := range t.columns {
		names = append(names, c.name)
	}
	return names
}

func (t familyTable) upsertSQL() string {
	names := t.columnNames()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")

	updates := make([]string, 0, len(names)-1)
	for _, n := range names[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", n, n))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		t.name, strings.Join(names, ", "), placeholders, strings.Join(updates, ", "))
}

func (t familyTable) selectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.columnNames(), ", "), t.name)
}

// UpsertResource inserts the resource or updates it in place on its id.
// The family is taken from r.Details.
func (s *Store) UpsertResource(ctx context.Context, r provider.Resource) error {
	t, err := tableFor(r.Family())
	if err != nil {
		return err
	}
	if r.ID == "" {
		return fmt.Errorf("upsert %s: empty id", t.name)
	}

	args := []any{
		r.ID, r.Owner, r.CompartmentID, r.DisplayName, string(r.LifecycleState),
		r.Region, nullTime(r.CreatedAt), utc(r.LastSeen), r.Deleted,
	}
	args = append(args, t.values(r.Details)...)

	if _, err := s.exec(ctx, t.upsertSQL(), args...); err != nil {
		return fmt.Errorf("upsert %s %s: %w", t.name, r.ID, err)
	}
	return nil
}

// SoftDeleteResource flags the resource deleted without touching any other
// column. It reports whether the flag changed.
func (s *Store) SoftDeleteResource(ctx context.Context, family provider.Family, id string) (bool, error) {
	t, err := tableFor(family)
	if err != nil {
		return false, err
	}

	res, err := s.exec(ctx, fmt.Sprintf("UPDATE %s SET is_deleted = ? WHERE id = ? AND is_deleted = ?", t.name), true, id, false)
	if err != nil {
		return false, fmt.Errorf("soft delete %s %s: %w", t.name, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete %s %s: %w", t.name, id, err)
	}
	return n > 0, nil
}

// KnownResources returns every stored id of the user's family, deleted or not
func (s *Store) KnownResources(ctx context.Context, user string, family provider.Family) (map[string]KnownResource, error) {
	t, err := tableFor(family)
	if err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, fmt.Sprintf("SELECT id, compartment_id, is_deleted FROM %s WHERE user_id = ?", t.name), user)
	if err != nil {
		return nil, fmt.Errorf("query known %s: %w", t.name, err)
	}
	defer rows.Close()

	known := make(map[string]KnownResource)
	for rows.Next() {
		var (
			id string
			k  KnownResource
		)
		if err := rows.Scan(&id, &k.CompartmentID, &k.Deleted); err != nil {
			return nil, fmt.Errorf("scan known %s: %w", t.name, err)
		}
		known[id] = k
	}
	return known, rows.Err()
}

// ListResources returns the user's resources of one family ordered by id
func (s *Store) ListResources(ctx context.Context, user string, family provider.Family, includeDeleted bool) ([]provider.Resource, error) {
	t, err := tableFor(family)
	if err != nil {
		return nil, err
	}

	query := t.selectSQL() + " WHERE user_id = ?"
	args := []any{user}
	if !includeDeleted {
		query += " AND is_deleted = ?"
		args = append(args, false)
	}
	query += " ORDER BY id"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []provider.Resource
	for rows.Next() {
		r, err := scanResource(rows, t)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetResource loads one resource by id
func (s *Store) GetResource(ctx context.Context, family provider.Family, id string) (provider.Resource, error) {
	t, err := tableFor(family)
	if err != nil {
		return provider.Resource{}, err
	}

	rows, err := s.query(ctx, t.selectSQL()+" WHERE id = ?", id)
	if err != nil {
		return provider.Resource{}, fmt.Errorf("get %s %s: %w", t.name, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return provider.Resource{}, err
		}
		return provider.Resource{}, fmt.Errorf("%s %s: %w", t.name, id, ErrNotFound)
	}
	return scanResource(rows, t)
}

// CountResources counts active and soft-deleted rows per user and family
func (s *Store) CountResources(ctx context.Context) ([]ResourceCount, error) {
	var out []ResourceCount
	for _, fam := range familyOrder {
		t := tables[fam]
		rows, err := s.query(ctx, fmt.Sprintf(`SELECT user_id,
	SUM(CASE WHEN is_deleted THEN 0 ELSE 1 END),
	SUM(CASE WHEN is_deleted THEN 1 ELSE 0 END)
FROM %s GROUP BY user_id ORDER BY user_id`, t.name))
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", t.name, err)
		}
		for rows.Next() {
			c := ResourceCount{Family: fam}
			if err := rows.Scan(&c.User, &c.Active, &c.Deleted); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s count: %w", t.name, err)
			}
			out = append(out, c)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner, t familyTable) (provider.Resource, error) {
	var (
		r       provider.Resource
		state   string
		created sql.NullTime
	)
	dest := []any{
		&r.ID, &r.Owner, &r.CompartmentID, &r.DisplayName, &state,
		&r.Region, &created, &r.LastSeen, &r.Deleted,
	}
	familyDest, details := t.scan()
	dest = append(dest, familyDest...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return provider.Resource{}, ErrNotFound
		}
		return provider.Resource{}, fmt.Errorf("scan %s: %w", t.name, err)
	}

	r.LifecycleState = provider.LifecycleState(state)
	if created.Valid {
		r.CreatedAt = created.Time.UTC()
	}
	r.LastSeen = r.LastSeen.UTC()
	r.Details = details()
	return r, nil
}
