// Package journal is the Journal (DAO): the only component allowed to
// mutate the relational schema described for the flight/flightinput/
// flightlog/flightworking/stairwayinstance/flightprogress tables. Every
// method runs inside its own SQL transaction unless its doc comment says
// otherwise; callers never see a *sql.Tx.
package journal

import (
	"context"
	"time"

	"github.com/cuemby/stairway/pkg/types"
)

// Serializer converts application values to and from the opaque strings the
// engine persists in flightinput.value and flightworking.value. The engine
// never inspects the decoded values itself; only application Step code and
// the caller-visible WorkingMap do.
type Serializer interface {
	Encode(v any) (string, error)
	Decode(s string, out *any) error
}

// StepLogEntry is the argument to StepLog: one committed log row plus the
// working-map snapshot taken at that boundary, and the operation's new
// status if it changed as a result.
type StepLogEntry struct {
	FlightID            string
	StepIndex           int
	Direction           types.Direction
	Rerun               bool
	SerializedException string
	WorkingMap          types.WorkingMap
	NewStatus           types.Status
	StatusChanged       bool
}

// EnumerateFilter narrows Enumerate's result set. Zero-value fields are
// ignored. InputKey/InputValue match flights whose flightinput table
// contains the given key with the given serialized value.
type EnumerateFilter struct {
	Status          types.Status
	ClassName       string
	SubmittedAfter  time.Time
	SubmittedBefore time.Time
	CompletedAfter  time.Time
	CompletedBefore time.Time
	InputKey        string
	InputValue      string
}

// Page is one page of an Enumerate call, along with the opaque token to
// fetch the next page, empty when there is none.
type Page struct {
	Flights       []types.FlightRow
	NextPageToken string
}

// Journal is the durable operation log. Implementations must guarantee
// that Claim and Disown are atomic compare-and-set updates (spec:
// at-most-one-owner) and that StepLog commits its log row and working-map
// rows in a single transaction.
type Journal interface {
	// Create inserts a new flight row with the given status and owner,
	// and its input map. Returns stairwayerr.ErrDuplicateID on a
	// primary-key conflict.
	Create(ctx context.Context, flightID, className string, status types.Status, inputs types.InputParams, owner string) error

	// StepLog commits one log row, its working-map snapshot, and any
	// status change atomically.
	StepLog(ctx context.Context, entry StepLogEntry) error

	// Exit writes the flight's terminal status, completion time, and
	// serialized exception, and clears owner.
	Exit(ctx context.Context, flightID string, status types.Status, serializedException string) error

	// Disown attempts (status=RUNNING, owner=owner) -> (status=READY,
	// owner=NULL). Returns false, nil if the precondition didn't hold.
	Disown(ctx context.Context, flightID, owner string) (bool, error)

	// ClearOwner attempts (owner=owner) -> (owner=NULL), leaving status
	// untouched. It exists for the WAIT outcome: StepLog already wrote the
	// flight's status as WAITING in the same transaction that logged the
	// step, so releasing the row just needs to drop ownership, not force
	// it back to READY the way Disown does. Returns false, nil if the
	// owner precondition didn't hold.
	ClearOwner(ctx context.Context, flightID, owner string) (bool, error)

	// Claim attempts (status=READY, owner=NULL) -> (status=RUNNING,
	// owner=newOwner). Returns false, nil if the precondition didn't hold.
	Claim(ctx context.Context, flightID, newOwner string) (bool, error)

	// ForceStatus unconditionally overrides a flight's status and clears
	// its owner, bypassing the ordinary state machine. It exists for the
	// administrative interface's force-ready and force-fatal operations
	// (spec.md's "interactive administrative CLI tool...forces state
	// changes via the same durable schema") and nowhere else; engine code
	// never calls it. Setting a terminal status also stamps completed_time;
	// setting a non-terminal status clears it.
	ForceStatus(ctx context.Context, flightID string, status types.Status) error

	// Reconstruct reads a flight's row, inputs, latest log row, and
	// latest working map, returning everything needed to resume its
	// state machine. Returns stairwayerr.ErrNotFound or
	// stairwayerr.ErrUnrecoverableMap.
	Reconstruct(ctx context.Context, flightID string) (*types.ExecutionContext, error)

	// ListDead returns flights currently owned by one of peerIDs.
	ListDead(ctx context.Context, peerIDs []string) ([]types.FlightRow, error)

	// Enumerate returns a page of flights matching filter.
	Enumerate(ctx context.Context, filter EnumerateFilter, pageToken string, limit int) (*Page, error)

	// Retain deletes flights whose completed_time is before horizon.
	// Rows in satellite tables cascade via foreign key. Returns the
	// number of flights deleted.
	Retain(ctx context.Context, horizon time.Time) (int64, error)

	// CountByStatus returns the number of flights in each status, used
	// by the administrative API and the metrics collector.
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// Get returns a single flight's row from the flight table, for the
	// administrative API. Its inputs, log, and progress meters are not
	// included.
	Get(ctx context.Context, flightID string) (*types.FlightRow, error)

	// RegisterInstance records this engine instance's presence, used by
	// recovery to know which peers currently exist.
	RegisterInstance(ctx context.Context, stairwayID string) error

	// DeregisterInstance removes an instance row, e.g. once recovery has
	// reset everything that peer owned.
	DeregisterInstance(ctx context.Context, stairwayID string) error

	// ListInstances returns every recorded instance id except me.
	ListInstances(ctx context.Context, me string) ([]string, error)

	// Close releases the underlying database handle.
	Close() error
}
