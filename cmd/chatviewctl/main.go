package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"chatview/internal/dialog"
	"chatview/internal/session"
	"chatview/internal/store"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	files, err := store.NewFiles(session.Dir(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot open session %q: %v\n", sessionName, err)
		os.Exit(1)
	}

	switch args[0] {
	case "dialogs":
		cmdDialogs(files, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatviewctl messages <conversation-id>")
			os.Exit(1)
		}
		cmdMessages(files, args[1], *jsonFlag)
	case "recents":
		cmdRecents(files, *jsonFlag)
	case "pinned":
		cmdPinned(files, *jsonFlag)
	case "avatars":
		cmdAvatars(sessionName, *jsonFlag)
	case "migrate":
		cmdMigrate(sessionName)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatviewctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  dialogs          Show the cached conversation list")
	fmt.Fprintln(os.Stderr, "  messages <id>    Show cached messages of a conversation")
	fmt.Fprintln(os.Stderr, "  recents          Show recently opened conversations")
	fmt.Fprintln(os.Stderr, "  pinned           Show pinned conversation ids")
	fmt.Fprintln(os.Stderr, "  avatars          Show cached profile photo entries")
	fmt.Fprintln(os.Stderr, "  migrate          Apply pending avatar store migrations")
}

func cmdDialogs(files *store.Files, jsonOut bool) {
	snap, err := files.LoadDialogs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if snap == nil {
		fmt.Println("no cached dialogs")
		return
	}
	if jsonOut {
		outputJSON(snap)
		return
	}
	fmt.Printf("snapshot from %s\n", time.UnixMilli(snap.Timestamp).Format(time.RFC3339))
	for _, g := range dialog.GroupDialogs(snap.Dialogs) {
		fmt.Printf("%-24s  unread=%-4d  %s\n", g.Parent.ID, g.Parent.UnreadCount, g.Parent.Name)
		for _, topic := range g.Topics {
			fmt.Printf("  %-22s  unread=%-4d  %s\n", topic.ID, topic.UnreadCount, topic.TopicName)
		}
	}
}

func cmdMessages(files *store.Files, convID string, jsonOut bool) {
	records, err := files.LoadMessages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for _, rec := range records {
		if rec.ChatID != convID {
			continue
		}
		if jsonOut {
			outputJSON(rec)
			return
		}
		for _, m := range rec.Messages {
			ts := time.Unix(m.Timestamp, 0).Format("2006-01-02 15:04")
			fmt.Printf("%s  %-12d %s: %s\n", ts, m.ID, m.SenderName, m.Text)
		}
		return
	}
	fmt.Printf("no cached messages for %s\n", convID)
}

func cmdRecents(files *store.Files, jsonOut bool) {
	entries := files.LoadRecents()
	if jsonOut {
		outputJSON(entries)
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  %s\n", time.UnixMilli(e.Timestamp).Format(time.RFC3339), e.ID)
	}
}

func cmdPinned(files *store.Files, jsonOut bool) {
	ids := files.LoadPinned()
	if jsonOut {
		outputJSON(ids)
		return
	}
	for _, id := range ids {
		fmt.Println(id)
	}
}

func cmdAvatars(sessionName string, jsonOut bool) {
	db, err := store.OpenDB(session.AvatarDBPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.ListAvatars()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(rows)
		return
	}
	for _, r := range rows {
		state := "present"
		if r.Absent {
			state = "no photo"
		}
		fmt.Printf("%-16d %-12s fetched %s\n", r.UserID, state,
			time.UnixMilli(r.FetchedAt).Format(time.RFC3339))
	}
}

func cmdMigrate(sessionName string) {
	if err := session.EnsureDir(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	db, err := store.OpenDB(session.AvatarDBPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	result, err := db.Migrate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if result.Changed {
		fmt.Printf("migrated to version %d\n", result.Version)
	} else {
		fmt.Printf("up to date at version %d\n", result.Version)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
