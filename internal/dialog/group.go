package dialog

import "chatview/internal/store"

// Group is a read-time presentation of the dialog list: forum chats
// collapse into a parent entry aggregating their topics, plain chats pass
// through with no children. Grouping is a pure transform over the cached
// list, never stored state.
type Group struct {
	Parent store.Dialog
	Topics []store.Dialog
}

// GroupDialogs folds per-topic summaries under a synthetic parent per
// forum chat. The parent's unread count is the sum over its topics and
// its last-message fields come from the most recent topic. Order follows
// first appearance in the input.
func GroupDialogs(dialogs []store.Dialog) []Group {
	var order []string
	byChat := make(map[string]*Group)

	for _, d := range dialogs {
		if !d.IsForum {
			order = append(order, d.ID)
			byChat[d.ID] = &Group{Parent: d}
			continue
		}

		g, ok := byChat[d.ChatID]
		if !ok {
			g = &Group{Parent: store.Dialog{
				ID:      d.ChatID,
				ChatID:  d.ChatID,
				Name:    d.GroupName,
				IsForum: true,
			}}
			order = append(order, d.ChatID)
			byChat[d.ChatID] = g
		}
		g.Parent.UnreadCount += d.UnreadCount
		if d.LastMessageTime > g.Parent.LastMessageTime {
			g.Parent.LastMessageTime = d.LastMessageTime
			g.Parent.LastMessage = d.LastMessage
		}
		if d.Pinned {
			g.Parent.Pinned = true
		}
		g.Topics = append(g.Topics, d)
	}

	out := make([]Group, 0, len(order))
	for _, id := range order {
		out = append(out, *byChat[id])
	}
	return out
}
