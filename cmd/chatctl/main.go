package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/suhas-24/couple-chat-app-sub002/internal/ctl"
	"github.com/suhas-24/couple-chat-app-sub002/internal/session"
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

	c := ctl.New(session.SocketPath(sessionName))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatctl login <email>")
			os.Exit(1)
		}
		cmdLogin(ctx, c, args[1])
	case "logout":
		must(c.Logout(ctx))
		fmt.Println("Logged out.")
	case "connect":
		must(c.Connect(ctx))
		fmt.Println("Connecting.")
	case "reconnect":
		must(c.Reconnect(ctx))
		fmt.Println("Reconnecting.")
	case "chats":
		cmdChats(ctx, c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatctl messages <chat-id> [limit]")
			os.Exit(1)
		}
		cmdMessages(ctx, c, args[1:], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: chatctl send <chat-id> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, c, args[1], args[2])
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatctl search <query> [chat-id]")
			os.Exit(1)
		}
		chatID := ""
		if len(args) > 2 {
			chatID = args[2]
		}
		cmdSearch(ctx, c, args[1], chatID, *jsonFlag)
	case "sync":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatctl sync <chat-id|status> [--full]")
			os.Exit(1)
		}
		cmdSync(ctx, c, args[1:])
	case "import":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: chatctl import <chat-id> <csv-path>")
			os.Exit(1)
		}
		cmdImport(ctx, c, args[1], args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                       Show connection status")
	fmt.Fprintln(os.Stderr, "  login <email>                Log in (password read from stdin)")
	fmt.Fprintln(os.Stderr, "  logout                       Clear stored credentials")
	fmt.Fprintln(os.Stderr, "  connect                      Dial the chat server")
	fmt.Fprintln(os.Stderr, "  reconnect                    Force a fresh connection attempt")
	fmt.Fprintln(os.Stderr, "  chats                        List chats")
	fmt.Fprintln(os.Stderr, "  messages <chat-id> [limit]   Show recent messages")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>        Send a message")
	fmt.Fprintln(os.Stderr, "  search <query> [chat-id]     Full-text search")
	fmt.Fprintln(os.Stderr, "  sync <chat-id|status>        Backfill history / show checkpoint")
	fmt.Fprintln(os.Stderr, "  import <chat-id> <csv-path>  Upload a CSV transcript")
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStatus(ctx context.Context, c *ctl.Client, jsonOut bool) {
	st, err := c.Status(ctx)
	must(err)
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Session:   %s\n", st.Session)
	fmt.Printf("Server:    %s\n", st.ServerURL)
	switch {
	case st.Connected:
		fmt.Println("State:     connected")
	case st.Reconnecting:
		fmt.Println("State:     reconnecting")
	default:
		fmt.Println("State:     disconnected")
	}
	if st.Error != "" {
		fmt.Printf("Error:     %s\n", st.Error)
	}
	fmt.Printf("Pending:   %d\n", st.Pending)
	fmt.Printf("Chats:     %d\n", st.ChatCount)
	fmt.Printf("Messages:  %d\n", st.MessageCount)
	fmt.Printf("Uptime:    %dms\n", st.UptimeMS)
}

func cmdLogin(ctx context.Context, c *ctl.Client, email string) {
	fmt.Fprint(os.Stderr, "Password: ")
	var password string
	if _, err := fmt.Scanln(&password); err != nil {
		fmt.Fprintln(os.Stderr, "error: could not read password")
		os.Exit(1)
	}
	must(c.Login(ctx, email, password))
	fmt.Println("Logged in.")
}

func cmdChats(ctx context.Context, c *ctl.Client, jsonOut bool) {
	chats, err := c.Chats(ctx)
	must(err)
	if jsonOut {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, ch := range chats {
		fmt.Printf("%-24s %-20s %s\n", ch.ID, ch.Name, ch.LastMessagePreview)
	}
}

func cmdMessages(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	limit := 20
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			limit = n
		}
	}
	msgs, err := c.Messages(ctx, args[0], 0, limit)
	must(err)
	if jsonOut {
		outputJSON(msgs)
		return
	}
	// Newest-first from the API; print oldest-first for reading.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		who := m.SenderName
		if m.FromMe {
			who = "me"
		}
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s: %s\n", ts, who, m.Body)
	}
}

func cmdSend(ctx context.Context, c *ctl.Client, chatID, text string) {
	res, err := c.Send(ctx, chatID, text)
	must(err)
	if res.Delivered {
		fmt.Println("Delivered.")
	} else {
		fmt.Println("Queued for delivery.")
	}
}

func cmdSearch(ctx context.Context, c *ctl.Client, query, chatID string, jsonOut bool) {
	results, err := c.Search(ctx, query, chatID)
	must(err)
	if jsonOut {
		outputJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, m := range results {
		fmt.Printf("%s %s: %s\n", m.ChatID, m.SenderName, m.Snippet)
	}
}

func cmdSync(ctx context.Context, c *ctl.Client, args []string) {
	if args[0] == "status" {
		checkpoint, err := c.SyncStatus(ctx)
		must(err)
		if checkpoint == 0 {
			fmt.Println("No history synced yet.")
		} else {
			fmt.Printf("Synced up to %s\n", time.UnixMilli(checkpoint).Format(time.RFC3339))
		}
		return
	}
	full := len(args) > 1 && args[1] == "--full"
	n, err := c.Sync(ctx, args[0], full)
	must(err)
	fmt.Printf("Ingested %d messages.\n", n)
}

func cmdImport(ctx context.Context, c *ctl.Client, chatID, path string) {
	res, err := c.Import(ctx, chatID, path)
	must(err)
	fmt.Printf("Imported %d, skipped %d.\n", res.Imported, res.Skipped)
	for _, e := range res.Errors {
		fmt.Printf("  warning: %s\n", e)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
