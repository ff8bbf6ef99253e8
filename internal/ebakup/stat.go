package ebakup

// StatData holds the ownership details of a source file that are recorded
// as extra attributes in a snapshot.
type StatData struct {
	UID   int64
	GID   int64
	Owner string
	Group string
}
