package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

type locationPayload struct {
	UserID     string  `json:"user_id"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	CapturedAt string  `json:"captured_at"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	userID := flag.String("user-id", "sim-user-1", "Tracked user identifier")
	baseLat := flag.Float64("lat", 36.7538, "Base latitude in decimal degrees")
	baseLon := flag.Float64("lon", 3.0588, "Base longitude in decimal degrees")
	jitter := flag.Float64("jitter", 0, "Maximum random offset in degrees applied to each fix (0 repeats the base point)")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published fixes")
	count := flag.Int("count", 0, "Stop after this many fixes (0 runs until interrupted)")

	flag.Parse()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	clientID := fmt.Sprintf("tracker-sim-%s-%s", *userID, uuid.NewString()[:8])
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	topic := fmt.Sprintf("users/%s/locations", *userID)
	sent := 0

	publish := func() {
		payload := locationPayload{
			UserID:     *userID,
			Latitude:   jittered(rng, *baseLat, *jitter),
			Longitude:  jittered(rng, *baseLon, *jitter),
			CapturedAt: time.Now().UTC().Format(time.RFC3339Nano),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}

		token := client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		sent++
		log.Printf("published %s lat=%.6f lon=%.6f", topic, payload.Latitude, payload.Longitude)
	}

	publish()

	for *count <= 0 || sent < *count {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}

	log.Printf("sent %d fixes, disconnecting", sent)
	client.Disconnect(250)
}

func jittered(rng *rand.Rand, base, jitter float64) float64 {
	if jitter <= 0 {
		return base
	}
	return base + (rng.Float64()*2-1)*jitter
}
