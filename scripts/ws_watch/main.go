package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-bots/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_watch: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8090/ws", "observer stream address")
	room := flag.String("room", "", "only show events for this room id")
	token := flag.String("token", "", "operator token, when API auth is enabled")
	flag.Parse()

	u, err := url.Parse(*addr)
	if err != nil {
		return fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	if *room != "" {
		q.Set("room", *room)
	}
	if *token != "" {
		q.Set("token", *token)
	}
	u.RawQuery = q.Encode()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Watching %s. Ctrl+C to exit.\n", *addr)
	for {
		var frame proto.StreamFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		printFrame(frame)
	}
}

func printFrame(frame proto.StreamFrame) {
	data, _ := frame.Data.(map[string]any)
	switch frame.Type {
	case proto.FrameMessage:
		fmt.Printf("[%v] %v: %v\n", data["room_id"], data["author"], data["text"])
	case proto.FrameUserJoined:
		fmt.Printf("[%v] * %v joined\n", data["room_id"], data["username"])
	case proto.FrameUserLeft:
		fmt.Printf("[%v] * %v left\n", data["room_id"], data["username"])
	case proto.FrameLog:
		fmt.Printf("log %v: %v\n", data["bot"], data["text"])
	default:
		fmt.Printf("%s: %v\n", frame.Type, frame.Data)
	}
}
