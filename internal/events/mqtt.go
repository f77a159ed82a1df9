package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ukydev/urban-services/internal/config"
)

// mqttPublisher is the subset of mqtt.Client the sink uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink mirrors booking events to an MQTT broker under
// <prefix>/bookings/<id>/<type>, for dispatch dashboards and partner devices
// that do not hold a socket open.
type MQTTSink struct {
	client  mqttPublisher
	prefix  string
	timeout time.Duration
}

// NewMQTTSink wraps an already connected client.
func NewMQTTSink(client mqttPublisher, prefix string) *MQTTSink {
	return &MQTTSink{client: client, prefix: prefix, timeout: 5 * time.Second}
}

// ConnectMQTT dials the broker configured in cfg.
func ConnectMQTT(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

// Topic returns the topic an event is published on.
func (s *MQTTSink) Topic(event Event) string {
	return fmt.Sprintf("%s/bookings/%s/%s", s.prefix, event.Booking.ID.Hex(), event.Type)
}

// HandleEvent publishes the event as JSON with QoS 0.
func (s *MQTTSink) HandleEvent(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	token := s.client.Publish(s.Topic(event), 0, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("mqtt publish timed out")
	}
	return token.Error()
}
