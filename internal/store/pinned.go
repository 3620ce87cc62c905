package store

import (
	"encoding/json"
	"fmt"
	"os"
)

const pinnedFile = "pinned.json"

// LoadPinned reads the pinned conversation id list. Missing or malformed
// files yield an empty list.
func (f *Files) LoadPinned() []string {
	data, err := os.ReadFile(f.path(pinnedFile))
	if err != nil {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil
	}
	return ids
}

// SavePinned persists the pinned conversation id list atomically.
func (f *Files) SavePinned(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode pinned ids: %w", err)
	}
	return f.writeAtomic(pinnedFile, data)
}
