package cluster

import (
	"io"

	"github.com/hashicorp/raft"
)

// noopFSM is the Raft state machine for the leadership-only group. It
// applies nothing because the engine's durable state already lives in the
// relational journal, shared across instances by the database itself;
// this Raft group exists only so raft.Raft can produce a LeaderCh.
type noopFSM struct{}

func (f *noopFSM) Apply(*raft.Log) interface{} { return nil }

func (f *noopFSM) Snapshot() (raft.FSMSnapshot, error) {
	return noopSnapshot{}, nil
}

func (f *noopFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error {
	return sink.Close()
}

func (noopSnapshot) Release() {}
