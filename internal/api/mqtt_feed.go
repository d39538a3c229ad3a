package api

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTConfig struct {
	BrokerURL string
	Topic     string
	ClientID  string
}

// MQTTFeed subscribes to the topic the barcode scanner publishes to
type MQTTFeed struct {
	cfg       MQTTConfig
	sink      ScanSink
	connected atomic.Bool
}

func NewMQTTFeed(cfg MQTTConfig, sink ScanSink) *MQTTFeed {
	return &MQTTFeed{cfg: cfg, sink: sink}
}

func (f *MQTTFeed) Name() string { return "MQTT" }

func (f *MQTTFeed) Connected() bool { return f.connected.Load() }

// Run connects to the broker and blocks until ctx is done. Connection problems are
// shown on the kiosk instead of being returned, so the rest of the service keeps running.
func (f *MQTTFeed) Run(ctx context.Context) error {
	if f.cfg.BrokerURL == "" || f.cfg.Topic == "" {
		f.sink.ShowError("MQTT not configured", false)
		log.Println("⚠️ MQTT not configured (BROKER_URL/TOPIC missing)")
		<-ctx.Done()
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(f.cfg.BrokerURL).
		SetClientID(f.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(f.cfg.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if msg.Topic() != f.cfg.Topic {
				return
			}
			dispatchScan(ctx, f.sink, "MQTT", msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			f.sink.ShowError(fmt.Sprintf("Subscription error: %v", err), false)
			log.Printf("❌ MQTT subscription to %s failed: %v", f.cfg.Topic, err)
			return
		}
		f.connected.Store(true)
		f.sink.Ready()
		log.Printf("📡 MQTT connected to %s, subscribed to %s", f.cfg.BrokerURL, f.cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		f.connected.Store(false)
		f.sink.ShowError(fmt.Sprintf("MQTT error: %v", err), false)
		log.Printf("❌ MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			f.sink.ShowError(fmt.Sprintf("MQTT error: %v", err), false)
			log.Printf("❌ MQTT connect failed: %v", err)
		}
	}()

	<-ctx.Done()
	if client.IsConnected() {
		client.Disconnect(250)
		f.sink.ShowError("Disconnected from MQTT broker", false)
		log.Println("🛑 Disconnected from MQTT broker")
	}
	f.connected.Store(false)
	return nil
}
