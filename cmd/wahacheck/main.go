// wahacheck probes a WAHA instance: session status over HTTP and,
// optionally, a short live watch of the event websocket.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/impostorpay/impostor-bot/internal/waha"
)

func main() {
	baseURL := os.Getenv("WAHA_API_URL")
	apiKey := os.Getenv("WAHA_API_KEY")
	session := os.Getenv("WAHA_SESSION")
	wsURL := os.Getenv("WAHA_WS_URL")

	if baseURL == "" {
		log.Fatal("WAHA_API_URL is required")
	}
	if session == "" {
		session = "default"
	}

	client := waha.NewClient(baseURL, apiKey, session, waha.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := client.SessionStatus(ctx)
	if err != nil {
		log.Printf("session status error: %v", err)
	} else {
		log.Printf("session %q status: %s", info.Name, info.Status)
	}

	if wsURL == "" {
		log.Println("WAHA_WS_URL not set; skipping WS check")
		return
	}

	ws := waha.NewEventSocket(wsURL, apiKey, 5, time.Second)
	ws.OnStateChange(func(state waha.WSState) {
		log.Printf("WS state: %s", state)
	})
	ws.OnEvent(func(ev *waha.Event) {
		if ev.Event != "message" {
			return
		}
		fmt.Printf("WS msg from=%s text=%q\n", ev.Payload.From, ev.Payload.Body)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	// Observe for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = ws.Close(context.Background())
}
