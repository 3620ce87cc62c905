package store

// PendingState tracks a locally-originated message that has not been
// confirmed by the server yet. It is never persisted.
type PendingState string

const (
	PendingNone    PendingState = ""
	PendingSending PendingState = "sending"
	PendingFailed  PendingState = "failed"
)

// Dialog is a conversation summary: a whole chat or, for forum chats,
// one topic within it. ID is the addressable conversation key (bare chat
// id or "chat:topic") and uniquely determines (ChatID, TopicID).
type Dialog struct {
	ID              string `json:"id"`
	ChatID          string `json:"chatId"`
	TopicID         int64  `json:"topicId,omitempty"`
	Name            string `json:"name"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime int64  `json:"lastMessageTime"` // unix seconds
	UnreadCount     int    `json:"unreadCount"`
	IsForum         bool   `json:"isForum,omitempty"`

	// Derived from the pinned-id set on every read, never persisted.
	Pinned bool `json:"-"`

	// Topic metadata, set only for forum topic entries.
	GroupName  string `json:"groupName,omitempty"`
	TopicName  string `json:"topicName,omitempty"`
	TopicEmoji string `json:"topicEmoji,omitempty"`
}

// Media describes an attachment on a message.
type Media struct {
	Type     string `json:"type"`
	FileName string `json:"fileName,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// ReplyRef references the message a message replies to.
type ReplyRef struct {
	ID     int64  `json:"id"`
	Text   string `json:"text,omitempty"`
	Sender string `json:"sender,omitempty"`
}

// Entity marks a rich-text span inside a message body.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
}

// Reaction is an emoji reaction aggregated over a message.
type Reaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
	Mine  bool   `json:"mine,omitempty"`
}

// Message is one message inside a conversation. Remote ids are positive
// and monotonically assigned by the service; locally-originated pending
// messages carry negative temporary ids until reconciled.
type Message struct {
	ID          int64      `json:"id"`
	SenderID    int64      `json:"senderId"`
	SenderName  string     `json:"senderName"`
	Text        string     `json:"text"`
	Timestamp   int64      `json:"timestamp"` // unix seconds
	Outgoing    bool       `json:"outgoing"`
	Edited      bool       `json:"edited,omitempty"`
	Media       *Media     `json:"media,omitempty"`
	ReplyTo     *ReplyRef  `json:"replyTo,omitempty"`
	ForwardFrom string     `json:"forwardFrom,omitempty"`
	Entities    []Entity   `json:"entities,omitempty"`
	Reactions   []Reaction `json:"reactions,omitempty"`

	Pending PendingState `json:"-"`
}

// RecentEntry records a recently opened conversation.
type RecentEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}
