package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "modernc.org/sqlite"             // registers "sqlite" driver

	"github.com/cuemby/stairway/pkg/log"
	"github.com/cuemby/stairway/pkg/metrics"
	"github.com/cuemby/stairway/pkg/stairwayerr"
	"github.com/cuemby/stairway/pkg/types"
)

// SQLJournal is the relational Journal implementation. It works against
// either modernc.org/sqlite (pure Go, for single-instance and test use) or
// pgx's database/sql driver (for a shared cluster database), selected by
// driverName at Open time.
type SQLJournal struct {
	db         *sqlx.DB
	serializer Serializer
}

// Open connects to driverName/dataSourceName ("sqlite" or "pgx") and
// returns a ready SQLJournal. It does not run migrations; callers run
// pkg/journal's migrations (or cmd/stairway-migrate) separately, per the
// Recovery Coordinator's initialize(migrate) step.
func Open(driverName, dataSourceName string, serializer Serializer) (*SQLJournal, error) {
	db, err := sqlx.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stairwayerr.ErrDatabaseSetup, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", stairwayerr.ErrDatabaseSetup, err)
	}
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	return &SQLJournal{db: db, serializer: serializer}, nil
}

func (j *SQLJournal) Close() error { return j.db.Close() }

// DB returns the underlying connection pool, so pkg/queue.SQLQueue can
// share it instead of opening a second pool against the same database.
func (j *SQLJournal) DB() *sqlx.DB { return j.db }

func (j *SQLJournal) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.JournalOperationDuration, op)

	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (j *SQLJournal) Create(ctx context.Context, flightID, className string, status types.Status, inputs types.InputParams, owner string) error {
	var ownerVal any
	if owner != "" {
		ownerVal = owner
	}

	return j.withTx(ctx, "create", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(tx.Rebind(`
			INSERT INTO flight (flightid, submit_time, class_name, status, stairway_id)
			VALUES (?, ?, ?, ?, ?)
		`), flightID, time.Now().UTC(), className, string(status), ownerVal)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", stairwayerr.ErrDuplicateID, flightID)
			}
			return err
		}

		for k, v := range inputs {
			encoded, err := j.serializer.Encode(v)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(tx.Rebind(`
				INSERT INTO flightinput (flightid, key, value) VALUES (?, ?, ?)
			`), flightID, k, encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

func (j *SQLJournal) StepLog(ctx context.Context, entry StepLogEntry) error {
	return j.withTx(ctx, "step_log", func(tx *sqlx.Tx) error {
		logID := uuid.NewString()
		if _, err := tx.ExecContext(tx.Rebind(`
			INSERT INTO flightlog (id, flightid, log_time, step_index, direction, rerun, serialized_exception)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), logID, entry.FlightID, time.Now().UTC(), entry.StepIndex, string(entry.Direction), entry.Rerun, entry.SerializedException); err != nil {
			return err
		}

		for k, v := range entry.WorkingMap {
			encoded, err := j.serializer.Encode(v)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(tx.Rebind(`
				INSERT INTO flightworking (flightlog_id, key, value) VALUES (?, ?, ?)
			`), logID, k, encoded); err != nil {
				return err
			}
		}

		if entry.StatusChanged {
			if _, err := tx.ExecContext(tx.Rebind(`
				UPDATE flight SET status = ? WHERE flightid = ?
			`), string(entry.NewStatus), entry.FlightID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (j *SQLJournal) Exit(ctx context.Context, flightID string, status types.Status, serializedException string) error {
	return j.withTx(ctx, "exit", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(tx.Rebind(`
			UPDATE flight
			SET status = ?, completed_time = ?, serialized_exception = ?, stairway_id = NULL
			WHERE flightid = ?
		`), string(status), time.Now().UTC(), serializedException, flightID)
		if err != nil {
			return err
		}
		return expectOneRow(res, stairwayerr.ErrNotFound)
	})
}

func (j *SQLJournal) Disown(ctx context.Context, flightID, owner string) (bool, error) {
	var ok bool
	err := j.withTx(ctx, "disown", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(tx.Rebind(`
			UPDATE flight SET status = ?, stairway_id = NULL
			WHERE flightid = ? AND status = ? AND stairway_id = ?
		`), string(types.StatusReady), flightID, string(types.StatusRunning), owner)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ok = n == 1
		return nil
	})
	return ok, err
}

func (j *SQLJournal) ClearOwner(ctx context.Context, flightID, owner string) (bool, error) {
	var ok bool
	err := j.withTx(ctx, "clear_owner", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(tx.Rebind(`
			UPDATE flight SET stairway_id = NULL
			WHERE flightid = ? AND stairway_id = ?
		`), flightID, owner)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ok = n == 1
		return nil
	})
	return ok, err
}

func (j *SQLJournal) Claim(ctx context.Context, flightID, newOwner string) (bool, error) {
	var ok bool
	err := j.withTx(ctx, "claim", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(tx.Rebind(`
			UPDATE flight SET status = ?, stairway_id = ?
			WHERE flightid = ? AND status = ? AND stairway_id IS NULL
		`), string(types.StatusRunning), newOwner, flightID, string(types.StatusReady))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ok = n == 1
		return nil
	})
	return ok, err
}

func (j *SQLJournal) ForceStatus(ctx context.Context, flightID string, status types.Status) error {
	return j.withTx(ctx, "force_status", func(tx *sqlx.Tx) error {
		var completedTime any
		if status.IsTerminal() {
			completedTime = time.Now().UTC()
		}
		res, err := tx.ExecContext(tx.Rebind(`
			UPDATE flight
			SET status = ?, stairway_id = NULL, completed_time = ?
			WHERE flightid = ?
		`), string(status), completedTime, flightID)
		if err != nil {
			return err
		}
		return expectOneRow(res, stairwayerr.ErrNotFound)
	})
}

func (j *SQLJournal) Reconstruct(ctx context.Context, flightID string) (*types.ExecutionContext, error) {
	var row flightRow
	if err := j.db.GetContext(ctx, &row, j.db.Rebind(`
		SELECT flightid, class_name, status, stairway_id, serialized_exception
		FROM flight WHERE flightid = ?
	`), flightID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", stairwayerr.ErrNotFound, flightID)
		}
		return nil, err
	}

	inputs, err := j.loadInputs(ctx, flightID)
	if err != nil {
		return nil, err
	}

	var lastLog logRow
	err = j.db.GetContext(ctx, &lastLog, j.db.Rebind(`
		SELECT id, flightid, log_time, step_index, direction, rerun, serialized_exception
		FROM flightlog WHERE flightid = ? ORDER BY log_time DESC, id DESC LIMIT 1
	`), flightID)

	ec := &types.ExecutionContext{
		FlightID:  flightID,
		ClassName: row.ClassName,
		Direction: types.DirectionDo,
		Inputs:    inputs,
	}

	if errors.Is(err, sql.ErrNoRows) {
		// No log rows yet: a fresh flight, resume at step 0 DO.
		ec.WorkingMap = types.WorkingMap{}
		return ec, nil
	}
	if err != nil {
		return nil, err
	}

	ec.StepIndex = lastLog.StepIndex
	ec.Direction = types.Direction(lastLog.Direction)
	ec.LastLogID = lastLog.ID
	ec.LastException = lastLog.SerializedException.String

	wm, err := j.loadWorkingMap(ctx, lastLog.ID)
	if err != nil {
		log.Logger.Error().Err(err).Str("flight_id", flightID).Msg("unrecoverable working map on reconstruct")
		return nil, fmt.Errorf("%w: %s: %v", stairwayerr.ErrUnrecoverableMap, flightID, err)
	}
	ec.WorkingMap = wm
	return ec, nil
}

func (j *SQLJournal) loadInputs(ctx context.Context, flightID string) (types.InputParams, error) {
	rows, err := j.db.QueryxContext(ctx, j.db.Rebind(`SELECT key, value FROM flightinput WHERE flightid = ?`), flightID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := types.InputParams{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		var decoded any
		if err := j.serializer.Decode(value, &decoded); err != nil {
			return nil, err
		}
		out[key] = decoded
	}
	return out, rows.Err()
}

func (j *SQLJournal) loadWorkingMap(ctx context.Context, logID string) (types.WorkingMap, error) {
	rows, err := j.db.QueryxContext(ctx, j.db.Rebind(`SELECT key, value FROM flightworking WHERE flightlog_id = ?`), logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := types.WorkingMap{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		var decoded any
		if err := j.serializer.Decode(value, &decoded); err != nil {
			return nil, err
		}
		out[key] = decoded
	}
	return out, rows.Err()
}

func (j *SQLJournal) ListDead(ctx context.Context, peerIDs []string) ([]types.FlightRow, error) {
	if len(peerIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT flightid, class_name, submit_time, completed_time, status, stairway_id, serialized_exception FROM flight WHERE stairway_id IN (?)`, peerIDs)
	if err != nil {
		return nil, err
	}
	var rows []flightRow
	if err := j.db.SelectContext(ctx, &rows, j.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return toFlightRows(rows), nil
}

func (j *SQLJournal) Enumerate(ctx context.Context, filter EnumerateFilter, pageToken string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 100
	}
	offset, err := decodePageToken(pageToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stairwayerr.ErrInvalidPageToken, err)
	}

	query := `SELECT DISTINCT f.flightid, f.class_name, f.submit_time, f.completed_time, f.status, f.stairway_id, f.serialized_exception
		FROM flight f`
	where := ""
	args := []any{}

	if filter.InputKey != "" {
		query += ` JOIN flightinput fi ON fi.flightid = f.flightid`
		where = addPredicate(where, "fi.key = ?")
		args = append(args, filter.InputKey)
		where = addPredicate(where, "fi.value = ?")
		args = append(args, filter.InputValue)
	}
	if filter.Status != "" {
		where = addPredicate(where, "f.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ClassName != "" {
		where = addPredicate(where, "f.class_name = ?")
		args = append(args, filter.ClassName)
	}
	if !filter.SubmittedAfter.IsZero() {
		where = addPredicate(where, "f.submit_time >= ?")
		args = append(args, filter.SubmittedAfter)
	}
	if !filter.SubmittedBefore.IsZero() {
		where = addPredicate(where, "f.submit_time <= ?")
		args = append(args, filter.SubmittedBefore)
	}
	if !filter.CompletedAfter.IsZero() {
		where = addPredicate(where, "f.completed_time >= ?")
		args = append(args, filter.CompletedAfter)
	}
	if !filter.CompletedBefore.IsZero() {
		where = addPredicate(where, "f.completed_time <= ?")
		args = append(args, filter.CompletedBefore)
	}

	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY f.submit_time, f.flightid LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	var rows []flightRow
	if err := j.db.SelectContext(ctx, &rows, j.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	nextToken := ""
	if len(rows) > limit {
		rows = rows[:limit]
		nextToken = encodePageToken(offset + limit)
	}

	return &Page{Flights: toFlightRows(rows), NextPageToken: nextToken}, nil
}

func (j *SQLJournal) Retain(ctx context.Context, horizon time.Time) (int64, error) {
	var n int64
	err := j.withTx(ctx, "retain", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(tx.Rebind(`
			DELETE FROM flight
			WHERE completed_time IS NOT NULL AND completed_time < ?
			AND status IN (?, ?, ?)
		`), horizon, string(types.StatusSuccess), string(types.StatusError), string(types.StatusFatal))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (j *SQLJournal) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := j.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM flight GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

func (j *SQLJournal) Get(ctx context.Context, flightID string) (*types.FlightRow, error) {
	var row flightRow
	if err := j.db.GetContext(ctx, &row, j.db.Rebind(`
		SELECT flightid, class_name, submit_time, completed_time, status, stairway_id, serialized_exception
		FROM flight WHERE flightid = ?
	`), flightID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", stairwayerr.ErrNotFound, flightID)
		}
		return nil, err
	}
	out := row.toPublic()
	return &out, nil
}

func (j *SQLJournal) RegisterInstance(ctx context.Context, stairwayID string) error {
	return j.withTx(ctx, "register_instance", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(tx.Rebind(`
			INSERT INTO stairwayinstance (stairway_id) VALUES (?)
		`), stairwayID)
		if err != nil && isUniqueViolation(err) {
			return nil
		}
		return err
	})
}

func (j *SQLJournal) DeregisterInstance(ctx context.Context, stairwayID string) error {
	return j.withTx(ctx, "deregister_instance", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(tx.Rebind(`DELETE FROM stairwayinstance WHERE stairway_id = ?`), stairwayID)
		return err
	})
}

func (j *SQLJournal) ListInstances(ctx context.Context, me string) ([]string, error) {
	var ids []string
	err := j.db.SelectContext(ctx, &ids, j.db.Rebind(`SELECT stairway_id FROM stairwayinstance WHERE stairway_id != ?`), me)
	return ids, err
}

var _ Journal = (*SQLJournal)(nil)
