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
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type sightingPayload struct {
	UserID     string `json:"user_id"`
	RSSI       int    `json:"rssi"`
	ObservedAt string `json:"observed_at"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	beaconID := flag.String("beacon-id", "sim-beacon-1", "Beacon identifier")
	users := flag.String("users", "user-1,user-2", "Comma-separated user identifiers to simulate")
	username := flag.String("username", "", "MQTT username (optional)")
	password := flag.String("password", "", "MQTT password (optional)")
	interval := flag.Duration("interval", 2*time.Second, "Interval between published sightings")
	baseRSSI := flag.Int("base-rssi", -55, "Baseline RSSI value to simulate")
	rssiJitter := flag.Int("rssi-jitter", 10, "Maximum random jitter applied to RSSI readings")

	flag.Parse()

	userIDs := strings.Split(*users, ",")
	if len(userIDs) == 0 {
		log.Fatal("at least one user is required")
	}

	rand.Seed(time.Now().UnixNano())

	clientID := fmt.Sprintf("%s-simulator-%d", *beaconID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)
	if *username != "" {
		opts = opts.SetUsername(*username).SetPassword(*password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	publish := func() {
		for _, userID := range userIDs {
			payload := sightingPayload{
				UserID:     strings.TrimSpace(userID),
				RSSI:       randomRSSI(*baseRSSI, *rssiJitter),
				ObservedAt: time.Now().UTC().Format(time.RFC3339Nano),
			}

			data, err := json.Marshal(payload)
			if err != nil {
				log.Printf("failed to encode payload: %v", err)
				continue
			}

			topic := fmt.Sprintf("beacons/%s/sightings", *beaconID)
			token := client.Publish(topic, 0, false, data)
			token.Wait()
			if err := token.Error(); err != nil {
				log.Printf("publish error: %v", err)
				continue
			}
			log.Printf("published %s user=%s rssi=%d", topic, payload.UserID, payload.RSSI)
		}
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}

func randomRSSI(base, jitter int) int {
	if jitter <= 0 {
		return base
	}
	delta := rand.Intn(jitter*2+1) - jitter
	return base + delta
}
