package service

// ReadMode governs whether and how GetAggregate reconstructs state beyond
// the stored snapshot.
type ReadMode int

const (
	// SnapshotOnly returns the persisted snapshot as-is, or nil if none
	// exists. No event replay.
	SnapshotOnly ReadMode = iota

	// SnapshotOrCreate returns the snapshot if present; otherwise it
	// rebuilds the aggregate by replaying the full stream in memory. Nothing
	// is persisted.
	SnapshotOrCreate

	// SnapshotWithNewEvents loads the snapshot (or rebuilds like
	// SnapshotOrCreate) and replays events past the snapshot's latest
	// sequence on top. Nothing is persisted.
	SnapshotWithNewEvents
)

func (m ReadMode) String() string {
	switch m {
	case SnapshotOnly:
		return "snapshot_only"
	case SnapshotOrCreate:
		return "snapshot_or_create"
	case SnapshotWithNewEvents:
		return "snapshot_with_new_events"
	default:
		return "unknown"
	}
}
