package clusterserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/raft"
	"github.com/klauspost/compress/zstd"

	"github.com/yndnr/segmesh-go/internal/cseg"
)

// LogEntryType defines the type of Raft log entry.
type LogEntryType uint8

const (
	// LogEntryTransition carries one cseg.Transition.
	LogEntryTransition LogEntryType = 1
)

// LogEntry represents a Raft log entry.
type LogEntry struct {
	Type    LogEntryType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeTransition builds the log entry for t.
func EncodeTransition(t cseg.Transition) ([]byte, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode transition: %w", err)
	}
	return json.Marshal(LogEntry{Type: LogEntryTransition, Payload: payload})
}

// FSM applies committed tree transitions to the local replica.
//
// A transition that no longer fits the tree (its base version is stale) is
// rejected identically on every replica, so the rejection is returned to
// the proposer rather than treated as corruption.
type FSM struct {
	replica *cseg.Replica
	logger  *slog.Logger
}

// NewFSM creates a new Raft FSM over replica.
func NewFSM(replica *cseg.Replica, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{replica: replica, logger: logger.With("component", "cseg-fsm")}
}

// Replica returns the replica the FSM drives.
func (f *FSM) Replica() *cseg.Replica {
	return f.replica
}

// Apply applies a Raft log entry. It returns the new *cseg.Snapshot or an
// error.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var entry LogEntry
	if err := json.Unmarshal(log.Data, &entry); err != nil {
		// Data corruption or an incompatible version; replicas would diverge.
		f.logger.Error("FATAL: failed to unmarshal log entry",
			"error", err,
			"log_index", log.Index,
			"log_term", log.Term)
		panic(fmt.Sprintf("FSM.Apply: unmarshal failed at index=%d: %v", log.Index, err))
	}

	switch entry.Type {
	case LogEntryTransition:
		var t cseg.Transition
		if err := json.Unmarshal(entry.Payload, &t); err != nil {
			f.logger.Error("FATAL: failed to unmarshal transition", "error", err, "log_index", log.Index)
			panic(fmt.Sprintf("FSM.Apply: transition unmarshal failed at index=%d: %v", log.Index, err))
		}
		next, err := f.replica.Apply(t)
		if err != nil {
			f.logger.Warn("transition rejected",
				"id", t.ID,
				"transition", t.String(),
				"log_index", log.Index,
				"error", err)
			return err
		}
		return next

	default:
		f.logger.Error("FATAL: unknown log entry type",
			"type", entry.Type,
			"log_index", log.Index)
		panic(fmt.Sprintf("FSM.Apply: unknown log type %d at index=%d", entry.Type, log.Index))
	}
}

// Snapshot captures the current tree. Snapshots are immutable, so no copy
// is needed.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{tree: f.replica.Tree().Snapshot()}, nil
}

// Restore replaces the tree with a persisted snapshot.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	var snap cseg.Snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	f.replica.Restore(&snap)
	f.logger.Info("tree restored from snapshot",
		"version", snap.Version,
		"leaves", snap.Leaves)
	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	tree *cseg.Snapshot
}

// Persist writes the tree as zstd-compressed JSON.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		enc, err := zstd.NewWriter(sink)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		if err := json.NewEncoder(enc).Encode(s.tree); err != nil {
			enc.Close()
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("close zstd writer: %w", err)
		}
		return nil
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release is called when the snapshot is no longer needed.
func (s *fsmSnapshot) Release() {}
