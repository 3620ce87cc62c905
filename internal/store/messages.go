package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

const (
	messagesFile       = "messages.jsonl"
	legacyMessagesFile = "messages.json"
)

// ConversationRecord is one conversation's cached message window, stored
// as a single line in the line-delimited messages file.
type ConversationRecord struct {
	ChatID    string    `json:"chatId"`
	Messages  []Message `json:"messages"`
	Timestamp int64     `json:"timestamp"`
}

// LoadMessages reads every conversation record from the line-delimited
// file. Lines that fail to decode are skipped rather than failing the
// whole load. Runs the legacy single-blob migration first if needed.
func (f *Files) LoadMessages() ([]ConversationRecord, error) {
	if err := f.migrateLegacyMessages(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.path(messagesFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open message cache: %w", err)
	}
	defer func() { _ = file.Close() }()

	var records []ConversationRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec ConversationRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan message cache: %w", err)
	}
	return records, nil
}

// SaveConversation replaces (or appends) a single conversation's record.
// The whole file is rewritten through a temp file and renamed into place,
// so a crash never corrupts neighbouring conversations. The load and the
// rewrite run under writeMu: concurrent savers would otherwise each read
// the pre-rename file and the later rename would drop the earlier update.
func (f *Files) SaveConversation(rec ConversationRecord) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	records, err := f.LoadMessages()
	if err != nil {
		// Malformed cache fails open: start over with just this record.
		records = nil
	}

	replaced := false
	for i := range records {
		if records[i].ChatID == rec.ChatID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode conversation %s: %w", r.ChatID, err)
		}
	}
	return f.writeAtomic(messagesFile, buf.Bytes())
}

// legacySnapshot is the old single-JSON-blob format: a map from
// conversation id to its record.
type legacySnapshot map[string]ConversationRecord

// migrateLegacyMessages rewrites the legacy single-blob file into the
// line-delimited format and removes it. A legacy file that cannot be
// decoded is discarded.
func (f *Files) migrateLegacyMessages() error {
	legacyPath := f.path(legacyMessagesFile)
	data, err := os.ReadFile(legacyPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read legacy message cache: %w", err)
	}

	var legacy legacySnapshot
	if err := json.Unmarshal(data, &legacy); err != nil {
		_ = os.Remove(legacyPath)
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for chatID, rec := range legacy {
		if rec.ChatID == "" {
			rec.ChatID = chatID
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode migrated conversation %s: %w", chatID, err)
		}
	}
	if err := f.writeAtomic(messagesFile, buf.Bytes()); err != nil {
		return err
	}
	return os.Remove(legacyPath)
}
