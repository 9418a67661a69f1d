// Command chat is a terminal client for a chatsync server. It opens a
// session against one room and mirrors every update to stdout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatsync-protocol/chatsync/chatsync"
)

func main() {
	var (
		server    = flag.String("server", "http://localhost:8080", "server base URL")
		wsURL     = flag.String("ws", "", "websocket URL (derived from -server when empty)")
		token     = flag.String("token", "", "bearer token")
		user      = flag.String("user", "", "own user ID")
		recipient = flag.String("to", "", "recipient user ID")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *token == "" || *user == "" || *recipient == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -token TOKEN -user ME -to THEM [-server URL]")
		os.Exit(1)
	}

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(level)

	endpoint := *wsURL
	if endpoint == "" {
		endpoint = strings.Replace(*server, "http", "ws", 1) + "/ws?token=" + *token
	}

	api := chatsync.NewClient(*server, chatsync.StaticToken(*token))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	room, err := api.CreateOrGetRoom(ctx, *recipient)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not open room")
	}
	fmt.Printf("room %s with %s\n", room.ID, *recipient)

	ch := chatsync.NewWSChannel(chatsync.WSConfig{
		URL:    endpoint,
		Tokens: chatsync.StaticToken(*token),
		Logger: logger,
	})

	session := chatsync.NewSession(room.ID, *user, api, ch, chatsync.Options{
		Logger:   logger,
		OnUpdate: func(u chatsync.Update) { printUpdate(u, *user) },
	})

	openCtx, openCancel := context.WithTimeout(ctx, 30*time.Second)
	err = session.Open(openCtx)
	openCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("could not open session")
	}
	defer session.Close()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		session.Close()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		session.OnLocalInput()
		if _, err := session.Submit(ctx, line); err != nil {
			logger.Error().Err(err).Msg("send failed")
		}
	}
}

func printUpdate(u chatsync.Update, self string) {
	switch u.Kind {
	case chatsync.UpdateTimeline:
		fmt.Printf("--- %d message(s) ---\n", len(u.Timeline))
		for _, m := range u.Timeline {
			printMessage(m, self)
		}
	case chatsync.UpdateMessage:
		if u.Message != nil {
			printMessage(*u.Message, self)
		}
	case chatsync.UpdateSendFailed:
		if u.Message != nil {
			fmt.Printf("!! failed to send: %s\n", u.Message.Body)
		}
	case chatsync.UpdateTyping:
		if u.Typing {
			fmt.Printf("%s is typing...\n", u.UserID)
		}
	case chatsync.UpdatePresence:
		state := "offline"
		if u.Online {
			state = "online"
		}
		fmt.Printf("%s is %s\n", u.UserID, state)
	case chatsync.UpdateConnState:
		fmt.Printf("connection: %s\n", u.Conn)
	case chatsync.UpdateSessionState:
		fmt.Printf("session: %s\n", u.Session)
	}
}

func printMessage(m chatsync.Message, self string) {
	who := m.Sender
	if who == self {
		who = "me"
	}
	suffix := ""
	if m.Pending {
		suffix = " (sending)"
	} else if m.Failed {
		suffix = " (failed)"
	}
	ts := time.UnixMilli(m.Timestamp).Format(time.Kitchen)
	fmt.Printf("[%s] %s: %s%s\n", ts, who, m.Body, suffix)
}
