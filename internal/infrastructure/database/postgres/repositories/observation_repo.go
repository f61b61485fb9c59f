package repositories

import (
	"context"
	"database/sql"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/database/postgres"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

const (
	observationsTable = "charge_observations"
	isomorphsTable    = "charge_isomorphs"
)

var (
	observationColumns = []string{"mode", "shell", "signature", "charge", "molecule_id", "atom"}
	isomorphColumns    = []string{"mode", "group_id", "molecule_id"}
)

// Copier bulk-loads rows with the COPY protocol. *pgxpool.Pool and pgx.Tx
// satisfy it.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// ObservationRepo persists a candidate.Dataset in PostgreSQL.
type ObservationRepo struct {
	conn   *postgres.Connection
	copier Copier
	log    logging.Logger
}

// NewObservationRepo returns a repository reading through conn and bulk
// importing through copier. copier may be nil for read-only use.
func NewObservationRepo(conn *postgres.Connection, copier Copier, log logging.Logger) *ObservationRepo {
	return &ObservationRepo{conn: conn, copier: copier, log: log}
}

// Import replaces the stored dataset with d. The previous contents are
// removed in one transaction before the COPY runs; a failed COPY leaves the
// tables partially filled and the import must be repeated.
func (r *ObservationRepo) Import(ctx context.Context, d *candidate.Dataset) (int64, error) {
	if r.copier == nil {
		return 0, errors.New(errors.ErrCodeDatabaseError, "observation repository is read-only")
	}
	tx, err := r.conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}
	if err := resetTables(ctx, tx, d); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit transaction")
	}

	n, err := r.copier.CopyFrom(ctx, pgx.Identifier{observationsTable}, observationColumns, pgx.CopyFromRows(observationRows(d)))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to copy observations")
	}
	if rows := isomorphRows(d); len(rows) > 0 {
		if _, err := r.copier.CopyFrom(ctx, pgx.Identifier{isomorphsTable}, isomorphColumns, pgx.CopyFromRows(rows)); err != nil {
			return n, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to copy isomorph groups")
		}
	}
	r.log.Info("Imported charge observations",
		logging.Int64("observations", n),
		logging.String("oracle", d.Oracle),
		logging.Int("min_shell", d.MinShell),
		logging.Int("max_shell", d.MaxShell))
	return n, nil
}

func resetTables(ctx context.Context, q queryExecutor, d *candidate.Dataset) error {
	for _, stmt := range []string{
		"DELETE FROM " + observationsTable,
		"DELETE FROM " + isomorphsTable,
	} {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to clear observations")
		}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO charge_repository_meta (id, min_shell, max_shell, oracle, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET min_shell = EXCLUDED.min_shell, max_shell = EXCLUDED.max_shell,
			oracle = EXCLUDED.oracle, updated_at = NOW()`,
		d.MinShell, d.MaxShell, d.Oracle)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to store repository meta")
	}
	return nil
}

// observationRows flattens d in (mode, shell, signature) order.
func observationRows(d *candidate.Dataset) [][]interface{} {
	var rows [][]interface{}
	for _, mode := range sortedModes(d.Charges) {
		shells := d.Charges[mode]
		shellIDs := make([]int, 0, len(shells))
		for s := range shells {
			shellIDs = append(shellIDs, s)
		}
		sort.Ints(shellIDs)
		for _, shell := range shellIDs {
			sd := shells[shell]
			sigs := make([]string, 0, len(sd))
			for sig := range sd {
				sigs = append(sigs, sig)
			}
			sort.Strings(sigs)
			for _, sig := range sigs {
				for _, o := range sd[sig] {
					rows = append(rows, []interface{}{string(mode), shell, sig, o.Charge, o.MoleculeID, o.Atom})
				}
			}
		}
	}
	return rows
}

// isomorphRows encodes each group under its smallest member id.
func isomorphRows(d *candidate.Dataset) [][]interface{} {
	var rows [][]interface{}
	for _, mode := range sortedModes(d.Isomorphs) {
		iso := d.Isomorphs[mode]
		ids := make([]int, 0, len(iso))
		for id := range iso {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			rows = append(rows, []interface{}{string(mode), iso[id][0], id})
		}
	}
	return rows
}

func sortedModes[V any](m map[molecule.Mode]V) []molecule.Mode {
	out := make([]molecule.Mode, 0, len(m))
	for mode := range m {
		out = append(out, mode)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Load reads the stored dataset.
func (r *ObservationRepo) Load(ctx context.Context) (*candidate.Dataset, error) {
	db := r.conn.DB()

	var minShell, maxShell int
	var oracle string
	err := db.QueryRowContext(ctx, "SELECT min_shell, max_shell, oracle FROM charge_repository_meta WHERE id = 1").
		Scan(&minShell, &maxShell, &oracle)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeRepositoryUnavailable, "no charge repository has been imported")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read repository meta")
	}
	d := candidate.NewDataset(minShell, maxShell)
	d.Oracle = oracle

	rows, err := db.QueryContext(ctx,
		"SELECT mode, shell, signature, charge, molecule_id, atom FROM charge_observations ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query observations")
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var (
			mode  string
			shell int
			sig   string
			obs   candidate.Observation
		)
		if err := rows.Scan(&mode, &shell, &sig, &obs.Charge, &obs.MoleculeID, &obs.Atom); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan observation")
		}
		m := molecule.Mode(mode)
		if !m.IsValid() {
			return nil, errors.New(errors.ErrCodeDatabaseError, "unknown observation mode").WithDetail(mode)
		}
		d.Add(m, shell, sig, obs)
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate observations")
	}

	groups, err := r.loadIsomorphs(ctx)
	if err != nil {
		return nil, err
	}
	for mode, g := range groups {
		d.SetIsomorphs(mode, g)
	}
	r.log.Debug("Loaded charge observations", logging.Int("observations", count))
	return d, nil
}

func (r *ObservationRepo) loadIsomorphs(ctx context.Context) (map[molecule.Mode][][]int, error) {
	rows, err := r.conn.DB().QueryContext(ctx,
		"SELECT mode, group_id, molecule_id FROM charge_isomorphs ORDER BY mode, group_id, molecule_id")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query isomorph groups")
	}
	defer rows.Close()

	type key struct {
		mode  molecule.Mode
		group int
	}
	var order []key
	members := make(map[key][]int)
	for rows.Next() {
		var mode string
		var group, molid int
		if err := rows.Scan(&mode, &group, &molid); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan isomorph group")
		}
		k := key{molecule.Mode(mode), group}
		if _, ok := members[k]; !ok {
			order = append(order, k)
		}
		members[k] = append(members[k], molid)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate isomorph groups")
	}
	out := make(map[molecule.Mode][][]int)
	for _, k := range order {
		out[k.mode] = append(out[k.mode], members[k])
	}
	return out, nil
}

// DeleteMolecule removes every observation of molid. Isomorph groups are
// left untouched; a group member without observations is ignored on load.
func (r *ObservationRepo) DeleteMolecule(ctx context.Context, molid int) (int64, error) {
	res, err := r.conn.DB().ExecContext(ctx, "DELETE FROM charge_observations WHERE molecule_id = $1", molid)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete observations")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete observations")
	}
	return n, nil
}

// Count returns the number of stored observations.
func (r *ObservationRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.conn.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM charge_observations").Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count observations")
	}
	return n, nil
}
