package store

import (
	"encoding/json"
	"fmt"
	"os"
)

const dialogsFile = "dialogs.json"

// DialogSnapshot is the persisted dialog list with its fetch time.
type DialogSnapshot struct {
	Timestamp int64    `json:"timestamp"`
	Dialogs   []Dialog `json:"dialogs"`
}

// LoadDialogs reads the persisted dialog snapshot. A missing file returns
// (nil, nil); a malformed file is an error the caller treats as no cache.
func (f *Files) LoadDialogs() (*DialogSnapshot, error) {
	data, err := os.ReadFile(f.path(dialogsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dialog snapshot: %w", err)
	}
	var snap DialogSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode dialog snapshot: %w", err)
	}
	return &snap, nil
}

// SaveDialogs persists the dialog snapshot atomically.
func (f *Files) SaveDialogs(snap *DialogSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode dialog snapshot: %w", err)
	}
	return f.writeAtomic(dialogsFile, data)
}
