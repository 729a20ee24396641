package status

// Meta is the display configuration for one status, consumed by table UIs.
type Meta struct {
	Label string
	Color string
}

var metaTable = map[Status]Meta{
	New:           {Label: "New", Color: "blue"},
	Resubmission:  {Label: "Resubmission", Color: "orange"},
	Emergency:     {Label: "Emergency", Color: "red"},
	CompletedPass: {Label: "Completed / Pass", Color: "green"},
	CompletedFail: {Label: "Completed / Fail", Color: "crimson"},
}

// MetaFor looks up display configuration. The table is exhaustive over All;
// an unknown status reports ok=false rather than a zero Meta.
func MetaFor(s Status) (Meta, bool) {
	m, ok := metaTable[s]
	return m, ok
}
