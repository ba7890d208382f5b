package conflict

import "github.com/alexjbarnes/docsync/internal/models"

// Decision is the outcome of comparing a link's edit timestamps against its
// last sync point. The caller performs I/O based on the decision.
type Decision int

const (
	// DecisionUpToDate means neither side changed since the last sync.
	DecisionUpToDate Decision = iota

	// DecisionPush means only the local copy changed.
	DecisionPush

	// DecisionPull means only the cloud copy changed.
	DecisionPull

	// DecisionConflict means both sides changed since the last sync.
	// Neither push nor pull may run until the conflict is resolved.
	DecisionConflict
)

func (d Decision) String() string {
	switch d {
	case DecisionUpToDate:
		return "up_to_date"
	case DecisionPush:
		return "push"
	case DecisionPull:
		return "pull"
	case DecisionConflict:
		return "conflict"
	}

	return "unknown"
}

// Decide compares lastLocalEditAt and lastCloudEditAt against lastSyncAt.
// A side counts as changed only when its edit is strictly newer than the
// last sync. This is a pure function with no I/O.
func Decide(st models.DocumentSyncState) Decision {
	local := st.LocalChanged()
	cloud := st.CloudChanged()

	switch {
	case local && cloud:
		return DecisionConflict
	case local:
		return DecisionPush
	case cloud:
		return DecisionPull
	}

	return DecisionUpToDate
}
