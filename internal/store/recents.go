package store

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	recentsFile = "recents.json"

	// MaxRecents caps the recently-opened list length.
	MaxRecents = 10
)

// LoadRecents reads the recently-opened list, most recent first. Missing
// or malformed files yield an empty list.
func (f *Files) LoadRecents() []RecentEntry {
	data, err := os.ReadFile(f.path(recentsFile))
	if err != nil {
		return nil
	}
	var entries []RecentEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

// SaveRecents persists the recently-opened list, trimming it to MaxRecents.
func (f *Files) SaveRecents(entries []RecentEntry) error {
	if len(entries) > MaxRecents {
		entries = entries[:MaxRecents]
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode recents: %w", err)
	}
	return f.writeAtomic(recentsFile, data)
}
