// Package addr maps between physical chat identifiers and the composite
// conversation ids used for forum topics ("chat:topic").
package addr

import (
	"strconv"
	"strings"
)

// Separator joins a chat id and a topic id into a conversation id.
const Separator = ":"

// Make builds a conversation id from a chat id and an optional topic id.
// A topic id of 0 means "no topic" and yields the bare chat id.
func Make(chatID string, topicID int64) string {
	if topicID == 0 {
		return chatID
	}
	return chatID + Separator + strconv.FormatInt(topicID, 10)
}

// Parse splits a conversation id into its chat id and topic id.
// Ids without a separator, and ids whose topic part is not numeric,
// are returned whole as the chat id with topic 0.
func Parse(id string) (chatID string, topicID int64) {
	chat, topic, ok := strings.Cut(id, Separator)
	if !ok {
		return id, 0
	}
	n, err := strconv.ParseInt(topic, 10, 64)
	if err != nil {
		return id, 0
	}
	return chat, n
}

// IsTopic reports whether id addresses a forum topic rather than a whole chat.
func IsTopic(id string) bool {
	_, topicID := Parse(id)
	return topicID != 0
}
