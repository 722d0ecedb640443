// Package main is the terminal chat client entry point.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dmtrv/parley/internal/api"
	"github.com/dmtrv/parley/internal/config"
	"github.com/dmtrv/parley/internal/realtime"
	"github.com/dmtrv/parley/internal/session"
	"github.com/dmtrv/parley/internal/timeline"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	sessions := session.New(cfg.Session.Path)
	if err := sessions.Load(); err != nil && !errors.Is(err, session.ErrNoSession) {
		log.Printf("failed to load stored session: %v", err)
	}

	client := api.New(cfg.API.BaseURL, cfg.API.Timeout, sessions,
		api.WithUnauthorizedHook(func() {
			sessions.Clear()
			fmt.Println("session expired, please log in again")
		}),
	)

	stdin := bufio.NewScanner(os.Stdin)

	if !sessions.Active() {
		if err := login(ctx, client, sessions, stdin); err != nil {
			log.Fatalf("login failed: %v", err)
		}
	}
	me := sessions.User()
	fmt.Printf("logged in as %s\n", me.Username)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Socket.DialTimeout)
	channel, err := realtime.Dial(dialCtx, cfg.Socket.URL, sessions.Token())
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to event channel: %v", err)
	}
	defer channel.Close()

	// The scroll hook prints the newest entry; it closes over the
	// reconciler variable, hence the two-step assignment.
	var reconciler *timeline.Reconciler
	reconciler = timeline.New(channel, client, me.ID,
		timeline.WithSendLimiter(30, time.Minute),
		timeline.WithNoticeHook(func(msg string) { fmt.Println("! " + msg) }),
		timeline.WithScrollHook(func() {
			entries := reconciler.Entries()
			if len(entries) == 0 {
				return
			}
			printEntry(entries[len(entries)-1], me.ID)
		}),
	)

	fmt.Println("type /help for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		for stdin.Scan() {
			lines <- stdin.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Println("shutdown signal received")
			reconciler.Deactivate(context.Background())
			return

		case <-channel.Done():
			log.Println("event channel closed")
			return

		case line, ok := <-lines:
			if !ok {
				reconciler.Deactivate(context.Background())
				return
			}
			if quit := handleLine(ctx, line, client, reconciler, me); quit {
				reconciler.Deactivate(context.Background())
				return
			}
		}
	}
}

func login(ctx context.Context, client *api.Client, sessions *session.Store, stdin *bufio.Scanner) error {
	fmt.Print("username: ")
	if !stdin.Scan() {
		return errors.New("no input")
	}
	username := strings.TrimSpace(stdin.Text())

	fmt.Print("password: ")
	if !stdin.Scan() {
		return errors.New("no input")
	}
	password := stdin.Text()

	result, err := client.Login(ctx, username, password)
	if err != nil {
		return err
	}

	return sessions.Save(result.Token, session.User{
		ID:       result.User.ID,
		Username: result.User.Username,
		Nickname: result.User.Nickname,
	})
}

func printEntry(e timeline.Entry, selfID int64) {
	stamp := e.Time.Local().Format("15:04:05")
	switch e.Kind {
	case timeline.KindJoined:
		fmt.Printf("[%s] * user %d joined\n", stamp, e.Sender)
	case timeline.KindLeft:
		fmt.Printf("[%s] * user %d left\n", stamp, e.Sender)
	default:
		who := strconv.FormatInt(e.Sender, 10)
		if e.Sender == selfID {
			who = "me"
		}
		body := e.Content
		if e.BodyType == realtime.MessageImage {
			body = "<image>"
		}
		fmt.Printf("[%s] %s: %s\n", stamp, who, body)
	}
}

func handleLine(ctx context.Context, line string, client *api.Client, reconciler *timeline.Reconciler, me session.User) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		reconciler.Send(ctx, line)
		return false
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		printHelp()

	case "/quit":
		return true

	case "/rooms":
		rooms, err := client.GroupList(ctx)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, room := range rooms {
			fmt.Printf("  %d  %s (%d members)\n", room.ID, room.Name, room.MembersCount)
		}

	case "/join":
		roomID, ok := argInt(args, 0)
		if !ok {
			fmt.Println("usage: /join <room id>")
			return false
		}
		reconciler.Activate(ctx, roomID)
		for _, e := range reconciler.Entries() {
			printEntry(e, me.ID)
		}

	case "/leave":
		reconciler.Deactivate(ctx)

	case "/create":
		if len(args) == 0 {
			fmt.Println("usage: /create <name>")
			return false
		}
		if err := client.CreateGroup(ctx, strings.Join(args, " ")); err != nil {
			fmt.Printf("! %v\n", err)
		}

	case "/members":
		roomID := reconciler.ActiveRoom()
		if roomID == 0 {
			fmt.Println("join a room first")
			return false
		}
		members, err := client.Members(ctx, roomID)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, m := range members {
			fmt.Printf("  %d  %s\n", m.ID, m.Username)
		}

	case "/friends":
		friends, err := client.FriendList(ctx)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, f := range friends {
			fmt.Printf("  %d  %s (%s)\n", f.ID, f.Username, f.Nickname)
		}

	case "/search":
		if len(args) == 0 {
			fmt.Println("usage: /search <keyword>")
			return false
		}
		users, err := client.SearchUsers(ctx, args[0])
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, u := range users {
			fmt.Printf("  %d  %s\n", u.ID, u.Username)
		}

	case "/add":
		friendID, ok := argInt(args, 0)
		if !ok {
			fmt.Println("usage: /add <user id> [reason]")
			return false
		}
		reason := strings.Join(args[1:], " ")
		if err := client.SendFriendRequest(ctx, friendID, reason); err != nil {
			fmt.Printf("! %v\n", err)
		}

	case "/requests":
		requests, err := client.FriendRequests(ctx)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, req := range requests {
			fmt.Printf("  from %d: %s (status %d)\n", req.FromUserID, req.Reason, req.Status)
		}

	case "/accept", "/reject":
		friendID, ok := argInt(args, 0)
		if !ok {
			fmt.Printf("usage: %s <user id>\n", cmd)
			return false
		}
		status := api.FriendRequestAccepted
		if cmd == "/reject" {
			status = api.FriendRequestRejected
		}
		if err := client.UpdateFriendRequest(ctx, friendID, status); err != nil {
			fmt.Printf("! %v\n", err)
		}

	case "/dm":
		friendID, ok := argInt(args, 0)
		if !ok {
			fmt.Println("usage: /dm <friend id>")
			return false
		}
		roomID, err := client.FindOneToOneChatroom(ctx, me.ID, friendID)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		if roomID == 0 {
			if err := client.CreateOneToOneChatroom(ctx, friendID); err != nil {
				fmt.Printf("! %v\n", err)
				return false
			}
			roomID, err = client.FindOneToOneChatroom(ctx, me.ID, friendID)
			if err != nil || roomID == 0 {
				fmt.Println("! could not open direct chat")
				return false
			}
		}
		reconciler.Activate(ctx, roomID)

	case "/fav":
		historyID, ok := argInt(args, 0)
		if !ok {
			fmt.Println("usage: /fav <message id>")
			return false
		}
		if err := client.AddFavorite(ctx, historyID); err != nil {
			fmt.Printf("! %v\n", err)
		}

	case "/favs":
		favorites, err := client.Favorites(ctx)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, fav := range favorites {
			fmt.Printf("  %d  message %d\n", fav.ID, fav.ChatHistoryID)
		}

	default:
		fmt.Printf("unknown command %s\n", cmd)
	}

	return false
}

func argInt(args []string, i int) (int64, bool) {
	if i >= len(args) {
		return 0, false
	}
	n, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func printHelp() {
	fmt.Println(`commands:
  /rooms                list your chatrooms
  /join <room id>       enter a room
  /leave                leave the current room
  /create <name>        create a group chatroom
  /members              list members of the current room
  /friends              list friends
  /search <keyword>     search users
  /add <id> [reason]    send a friend request
  /requests             list friend requests
  /accept <id>          accept a friend request
  /reject <id>          reject a friend request
  /dm <friend id>       open a direct chat
  /fav <message id>     mark a message as favorite
  /favs                 list favorites
  /quit                 exit
anything else is sent to the current room`)
}
