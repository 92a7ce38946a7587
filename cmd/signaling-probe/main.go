/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command signaling-probe connects to the signaling server and prints every
// event it receives. It is a debugging aid for the websocket transport.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejzpr/chatcall-go-sdk/chatsdk"
	"github.com/tejzpr/chatcall-go-sdk/mercury"
	"github.com/tejzpr/chatcall-go-sdk/signaling"
)

func main() {
	token := os.Getenv("CHAT_TOKEN")
	wsURL := os.Getenv("CHAT_SIGNALING_URL")
	if token == "" || wsURL == "" {
		fmt.Println("CHAT_TOKEN and CHAT_SIGNALING_URL env vars required")
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	fmt.Println("[1/3] Reading session token...")
	core, err := chatsdk.NewClient(token, &chatsdk.Config{Logger: logger, Timeout: 10 * time.Second})
	if err != nil {
		fmt.Printf("ERROR creating client: %v\n", err)
		os.Exit(1)
	}
	claims, err := core.TokenClaims(time.Now())
	if err != nil {
		fmt.Printf("ERROR reading token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  User: %s  Device: %s  Expires: %s\n", claims.UserID, claims.DeviceID, claims.ExpiresAt.Format(time.RFC3339))

	fmt.Println("[2/3] Connecting to signaling...")
	client := mercury.New(core, wsURL, nil)
	client.OnStateChange(func(state signaling.ConnState) {
		fmt.Printf("  [state] %s\n", state)
	})

	count := 0
	client.On(signaling.NameAny, func(ev signaling.Event) {
		count++
		data, _ := json.Marshal(ev)
		fmt.Printf("\n=== EVENT #%d %s (key %s) ===\n%s\n", count, ev.Name(), ev.Key(), truncate(string(data), 400))
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		fmt.Printf("ERROR connecting: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("[3/3] Connected! Listening for 120s.")

	select {
	case <-ctx.Done():
		fmt.Println("\nStopping...")
	case <-time.After(120 * time.Second):
		fmt.Printf("\nTimeout. Received %d event(s).\n", count)
	}

	_ = client.Disconnect()
	fmt.Println("Disconnected.")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
