package journal

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cuemby/stairway/pkg/types"
)

// flightRow is the sqlx scan target for the flight table; nullable columns
// use sql.Null* so both sqlite and pgx drivers scan cleanly.
type flightRow struct {
	FlightID            string         `db:"flightid"`
	ClassName           string         `db:"class_name"`
	SubmitTime          sql.NullTime   `db:"submit_time"`
	CompletedTime       sql.NullTime   `db:"completed_time"`
	Status              string         `db:"status"`
	StairwayID          sql.NullString `db:"stairway_id"`
	SerializedException sql.NullString `db:"serialized_exception"`
}

func (r flightRow) toPublic() types.FlightRow {
	out := types.FlightRow{
		ID:                  r.FlightID,
		ClassName:           r.ClassName,
		Status:              types.Status(r.Status),
		SerializedException: r.SerializedException.String,
	}
	if r.SubmitTime.Valid {
		out.SubmitTime = r.SubmitTime.Time
	}
	if r.CompletedTime.Valid {
		t := r.CompletedTime.Time
		out.CompletedTime = &t
	}
	if r.StairwayID.Valid {
		owner := r.StairwayID.String
		out.Owner = &owner
	}
	return out
}

func toFlightRows(rows []flightRow) []types.FlightRow {
	out := make([]types.FlightRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPublic())
	}
	return out
}

// logRow is the sqlx scan target for the flightlog table.
type logRow struct {
	ID                  string         `db:"id"`
	FlightID            string         `db:"flightid"`
	LogTime             time.Time      `db:"log_time"`
	StepIndex           int            `db:"step_index"`
	Direction           string         `db:"direction"`
	Rerun               bool           `db:"rerun"`
	SerializedException sql.NullString `db:"serialized_exception"`
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func addPredicate(where, clause string) string {
	if where == "" {
		return clause
	}
	return where + " AND " + clause
}

// isUniqueViolation recognizes a primary-key/unique-constraint failure
// across the two supported drivers: modernc.org/sqlite reports it as a
// plain error string, pgx as a *pgconn.PgError with SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

// Page tokens are a base64 offset; opaque to callers, as required by the
// InvalidPageToken error kind (a malformed token must be rejected, not
// silently reinterpreted as offset 0).
func encodePageToken(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative offset")
	}
	return n, nil
}
