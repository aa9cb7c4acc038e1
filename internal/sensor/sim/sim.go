// Package sim provides scripted sensors for development and demos: login
// attempts with periodic failure bursts, camera motion, USB plug events,
// session lock/unlock churn, and synthetic input ticks. No host hooks are
// touched; the engine exercises its full pipeline against realistic noise.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/deskwatch/agent/internal/debounce"
	"github.com/deskwatch/agent/internal/event"
	"github.com/deskwatch/agent/internal/sensor"
)

// Hooks are the engine entry points the simulated sensors feed.
type Hooks struct {
	Publish       func(rec *event.Record)
	SessionChange func(ch event.SessionChange)
}

// Sensors returns the simulated login, camera, usb, and session services.
// The input path is driven separately via DriveInput against the debouncer.
func Sensors(h Hooks) []sensor.Service {
	return []sensor.Service{
		sensor.NewRunner("login", event.Login, loginLoop(h.Publish)),
		sensor.NewRunner("camera", event.Camera, cameraLoop(h.Publish)),
		sensor.NewRunner("usb", event.USB, usbLoop(h.Publish)),
		sensor.NewRunner("session", event.Session, sessionLoop(h.SessionChange)),
	}
}

// loginLoop emits successful logins with an occasional failure burst, enough
// to trip the aggregator's credential-attack heuristic now and then.
func loginLoop(publish func(*event.Record)) func(context.Context) {
	users := []string{"alice", "bob", "svc-backup"}
	return func(ctx context.Context) {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		iteration := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				iteration++
				user := users[rand.Intn(len(users))]
				if iteration%7 == 0 {
					for i := 0; i < 3; i++ {
						publish(event.NewRecord(event.Login, event.Medium, "login",
							fmt.Sprintf("login failure for %s (invalid password)", user)))
					}
					continue
				}
				publish(event.NewRecord(event.Login, event.Info, "login",
					fmt.Sprintf("login success for %s", user)))
			}
		}
	}
}

func cameraLoop(publish func(*event.Record)) func(context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(45 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				score := 0.2 + rand.Float64()*0.7
				sev := event.Low
				if score > 0.75 {
					sev = event.Medium
				}
				publish(event.NewRecord(event.Camera, sev, "camera",
					fmt.Sprintf("motion detected (score %.2f)", score)))
			}
		}
	}
}

func usbLoop(publish func(*event.Record)) func(context.Context) {
	devices := []string{"SanDisk Ultra", "Logitech Receiver", "Yubikey 5C"}
	return func(ctx context.Context) {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				publish(event.NewRecord(event.USB, event.Low, "usb",
					"usb device connected: "+devices[rand.Intn(len(devices))]))
			}
		}
	}
}

// sessionLoop cycles the desktop through lock/unlock churn with occasional
// remote-session brackets so the controller's activation policy is exercised.
func sessionLoop(change func(event.SessionChange)) func(context.Context) {
	script := []event.SessionState{
		event.Locked,
		event.Unlocked,
		event.Locked,
		event.RemoteConnect,
		event.RemoteDisconnect,
		event.Unlocked,
	}
	return func(ctx context.Context) {
		ticker := time.NewTicker(90 * time.Second)
		defer ticker.Stop()
		idx := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				change(event.SessionChange{
					NewState:  script[idx%len(script)],
					Timestamp: time.Now(),
					Context:   "simulated",
				})
				idx++
			}
		}
	}
}

// DriveInput feeds synthetic typing bursts into the debouncer: a few seconds
// of keystrokes, clicks, and pointer movement, then a pause. Runs until ctx
// is cancelled.
func DriveInput(ctx context.Context, tick func(debounce.TickKind, float64)) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	step := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			step++
			// Type in bursts of ~10s followed by ~20s of silence.
			if step%120 >= 40 {
				continue
			}
			tick(debounce.KeyPress, 0)
			if step%5 == 0 {
				tick(debounce.Click, 0)
			}
			tick(debounce.Move, rand.Float64()*30)
		}
	}
}
