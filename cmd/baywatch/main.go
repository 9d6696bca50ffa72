// Command baywatch connects to a bay allocation server, keeps a live replica
// of its state and prints every event it receives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"bay-allocation-backend/internal/client"
	"bay-allocation-backend/internal/events"
	"bay-allocation-backend/internal/model"
)

func main() {
	logger := log.New(os.Stderr, "baywatch ", log.LstdFlags)

	url := pflag.StringP("url", "u", "ws://localhost:8080/ws", "websocket endpoint of the server")
	userID := pflag.String("user", "", "user id to identify as")
	role := pflag.String("role", "", "role to identify as (atc or stakeholder)")
	retry := pflag.Duration("retry", 2*time.Second, "delay before reconnecting")
	keepalive := pflag.Duration("keepalive", 15*time.Second, "interval between keepalive pings")
	pflag.Parse()

	c := client.New(client.Options{
		URL:               *url,
		Caller:            model.Caller{UserID: *userID, Role: model.Role(*role)},
		RetryDelay:        *retry,
		KeepaliveInterval: *keepalive,
	}, printEvent)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Printf("watching %s", *url)
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("client stopped: %v", err)
	}
}

func printEvent(env *events.Envelope, view *client.View) {
	switch ev := env.Event.(type) {
	case model.InitialState:
		fmt.Printf("#%d synced: %d bays (%d free), %d requests\n", env.Seq, len(ev.Bays), countFree(ev.Bays), len(ev.Requests))
	case model.NewRequest:
		fmt.Printf("#%d request %d: %s wants bay %d\n", env.Seq, ev.Request.ID, ev.Request.FlightCallsign, ev.Request.RequestedBayID)
	case model.RequestResolved:
		fmt.Printf("#%d request %d %s (bay %d)\n", env.Seq, ev.Request.ID, ev.Request.Status, ev.Request.RequestedBayID)
	case model.AlternativeSuggested:
		if ev.Request.SuggestedBayID != nil {
			fmt.Printf("#%d request %d: bay %d suggested instead of %d\n", env.Seq, ev.Request.ID, *ev.Request.SuggestedBayID, ev.Request.RequestedBayID)
		}
	case model.RequestCancelled:
		fmt.Printf("#%d request %d cancelled\n", env.Seq, ev.RequestID)
	case model.BayUpdated:
		line := fmt.Sprintf("#%d bay %d %s", env.Seq, ev.Bay.Number, ev.Bay.Status)
		if ev.Bay.Occupant != nil {
			line += " by " + *ev.Bay.Occupant
		}
		fmt.Printf("%s (%d free)\n", line, countFree(view.Snapshot().Bays))
	}
}

func countFree(bays []model.Bay) int {
	free := 0
	for _, b := range bays {
		if b.Status == model.BayFree {
			free++
		}
	}
	return free
}
