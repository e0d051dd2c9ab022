// Package changelog provides an append-only journal of index mutations.
//
// The journal is observational: readers use it to follow what happened to
// the database (builds, inserts, deletes, rebuilds, compactions), e.g. to
// invalidate caches or replicate changes. It is not a write-ahead log; the
// engine does not replay it for recovery, snapshots carry the full state.
package changelog

import (
	"fmt"
	"time"

	"github.com/crystal-tensor/svdb/model"
)

// Op identifies the kind of mutation a record describes.
type Op uint8

const (
	OpBuild Op = iota + 1
	OpInsert
	OpDelete
	OpRebuild
	OpCompact
)

func (op Op) String() string {
	switch op {
	case OpBuild:
		return "build"
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpRebuild:
		return "rebuild"
	case OpCompact:
		return "compact"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(op))
	}
}

// Record is one journal entry. Keys carries the affected keys for point
// mutations and is empty for whole-index operations, where Count holds the
// resulting live key count instead.
type Record struct {
	Op      Op
	Version model.Version
	Keys    []model.Key
	Count   uint32
	At      time.Time
}

// Notifier receives records as mutations happen. Implementations must not
// block: slow consumers are expected to buffer or drop.
type Notifier interface {
	Notify(rec Record)
	Close() error
}

// NopNotifier discards every record.
type NopNotifier struct{}

func (NopNotifier) Notify(Record) {}
func (NopNotifier) Close() error  { return nil }
