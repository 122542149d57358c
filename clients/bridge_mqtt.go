package clients

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTBridge publishes message calls to <topic>/<target>/<method>. The paho
// client reconnects on its own; Connected reflects the live connection.
type MQTTBridge struct {
	broker   string
	clientID string
	topic    string
	qos      byte
	encoding string
	log      *logrus.Entry

	client mqtt.Client
}

func NewMQTTBridge(broker, clientID, topic string, qos byte, encoding string, log *logrus.Entry) *MQTTBridge {
	return &MQTTBridge{
		broker:   broker,
		clientID: clientID,
		topic:    topic,
		qos:      qos,
		encoding: encoding,
		log:      log.WithField("component", "bridge"),
	}
}

func (b *MQTTBridge) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.broker)
	opts.SetClientID(b.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		b.log.WithField("broker", b.broker).Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.log.WithError(err).Warn("mqtt connection lost, will auto-reconnect")
	}

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func (b *MQTTBridge) Connected() bool {
	return b.client != nil && b.client.IsConnectionOpen()
}

func (b *MQTTBridge) Topic(target, method string) string {
	return fmt.Sprintf("%s/%s/%s", b.topic, target, method)
}

func (b *MQTTBridge) Send(target, method, payload string) error {
	if !b.Connected() {
		return ErrNotConnected
	}
	data, err := encodeEnvelope(Envelope{Target: target, Method: method, Payload: payload}, b.encoding)
	if err != nil {
		return err
	}
	token := b.client.Publish(b.Topic(target, method), b.qos, false, data)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

func (b *MQTTBridge) Close() error {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
		b.log.Info("mqtt disconnected")
	}
	return nil
}
