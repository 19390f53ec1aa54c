package capture

import "fmt"

// Source is a capturable monitor or window as reported by a backend.
// It is a plain descriptor: copying it is free and it owns no resources.
// IDs are only meaningful to the session whose enumeration produced them.
type Source struct {
	ID    uint64
	Title string
	// DisplayID associates the source with a monitor; -1 for windows.
	DisplayID int64
}

// IsWindow reports whether the source has no monitor association.
func (s Source) IsWindow() bool {
	return s.DisplayID < 0
}

func (s Source) String() string {
	return fmt.Sprintf("Source{id: %d, title: %q, display_id: %d}", s.ID, s.Title, s.DisplayID)
}
