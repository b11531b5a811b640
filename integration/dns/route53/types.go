package route53

// MaxChangesPerBatch is the provider limit of changes in one request.
const MaxChangesPerBatch = 1000

// DefaultTTL is used for every record the system writes.
const DefaultTTL int64 = 300

// Action is a change batch action.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionDelete Action = "DELETE"
	ActionUpsert Action = "UPSERT"
)

// ChangeStatus is the propagation state of a submitted change.
type ChangeStatus string

const (
	ChangePending ChangeStatus = "PENDING"
	ChangeInSync  ChangeStatus = "INSYNC"
)

// RecordSet is all values of one name and type.
type RecordSet struct {
	Name   string
	Type   string
	TTL    int64
	Values []string
}

// Change is one entry of a change batch.
type Change struct {
	Action    Action
	RecordSet RecordSet
}

// Cursor positions a listing at a name and type. The zero value starts at
// the beginning of the zone.
type Cursor struct {
	Name string
	Type string
}

// RecordSetPage is one page of a zone listing. Next is nil on the last page.
type RecordSetPage struct {
	RecordSets []RecordSet
	Next       *Cursor
}
