package governor

// Governor names used for the per-task set.
const (
	SearchName      = "search"
	VisitName       = "visit"
	TableCreateName = "table_creation"
)

// Limits configures a Set. Zero or negative search/visit limits are unlimited;
// TableCreate defaults to 1.
type Limits struct {
	Search      int
	Visit       int
	TableCreate int
	Calls       map[string]int
}

// Set bundles the governors shared by every worker of one task.
type Set struct {
	Search      *Governor
	Visit       *Governor
	TableCreate *Governor
	Calls       *CallGovernor
}

// NewSet creates the per-task governors.
func NewSet(l Limits) *Set {
	tc := l.TableCreate
	if tc <= 0 {
		tc = 1
	}
	return &Set{
		Search:      New(SearchName, l.Search),
		Visit:       New(VisitName, l.Visit),
		TableCreate: New(TableCreateName, tc),
		Calls:       NewCallGovernor(l.Calls),
	}
}

// Snapshot is the serializable state of a Set, stored in result artifacts.
type Snapshot struct {
	Search      Status            `json:"search"`
	Visit       Status            `json:"visit"`
	TableCreate Status            `json:"table_creation"`
	Calls       map[string]Status `json:"managed_agent_calls"`
}

// Snapshot captures every governor. Each governor is read under its own lock
// in turn; no two locks are held together.
func (s *Set) Snapshot() Snapshot {
	return Snapshot{
		Search:      s.Search.Snapshot(),
		Visit:       s.Visit.Snapshot(),
		TableCreate: s.TableCreate.Snapshot(),
		Calls:       s.Calls.AllStatus(),
	}
}
