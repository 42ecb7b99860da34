// Package clientmqtt bridges the show to an MQTT broker: analyzer signals,
// system messages and DMX frames go out, control events and operator
// commands come in.
package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"blaulicht/internal/audio"
	"blaulicht/internal/event"
	"blaulicht/internal/logger"
	"blaulicht/internal/system"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	ctx       context.Context
	log       *logger.Log
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	pub       publisher
	bus       *event.Connection
	commands  chan<- system.Command
}

// NewClient конструктор. Control events are sent on bus, operator commands on commands.
func NewClient(log logger.Logger, cfgClient MQTTConf, bus *event.Connection, commands chan<- system.Command) *ClientMQTT {
	if cfgClient.ClientID == "" {
		cfgClient.ClientID = "blaulicht-" + uuid.NewString()[:8]
	}
	return &ClientMQTT{
		ctx:       context.Background(),
		log:       log.With(logger.Fields{"module": "mqtt"}),
		cfgClient: cfgClient,
		bus:       bus,
		commands:  commands,
	}
}

func (c *ClientMQTT) Start(ctx context.Context) error {
	if c.log.GetLevel() == logrus.DebugLevel.String() {
		mqtt.ERROR = log.New(c.log.WriterLevel(logrus.ErrorLevel), "", 0)
		mqtt.CRITICAL = log.New(c.log.WriterLevel(logrus.ErrorLevel), "", 0)
		mqtt.WARN = log.New(c.log.WriterLevel(logrus.WarnLevel), "", 0)
	}

	c.ctx = ctx

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetMaxReconnectInterval(retryInterval).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)
	c.pub = c.client

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.log.Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

// Run forwards signals, system messages and every bus event to the broker
// until ctx is done.
func (c *ClientMQTT) Run(ctx context.Context, signals <-chan audio.Signal, sys <-chan system.Message) {
	var ready <-chan struct{}
	if c.bus != nil {
		ready = c.bus.Ready()
		defer c.bus.Close()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
			for _, msg := range c.bus.Drain() {
				c.PublishEvent(msg)
			}
		case s, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			c.PublishSignal(s)
		case m, ok := <-sys:
			if !ok {
				sys = nil
				continue
			}
			c.PublishSystem(m)
		}
	}
}

// PublishSignal publishes s as JSON on <prefix>/signal/<kind>.
func (c *ClientMQTT) PublishSignal(s audio.Signal) {
	msg, err := json.Marshal(s)
	if err != nil {
		c.log.Errorf("signal %s: %v", s, err)
		return
	}
	c.pubTopic(c.cfgClient.topic(topicSignal, s.Kind.String()), msg)
}

// PublishEvent publishes a bus message as JSON on <prefix>/event, so web
// clients see confirmed events and engine compensations.
func (c *ClientMQTT) PublishEvent(msg event.Message) {
	payload, err := json.Marshal(eventPayload{Originator: msg.Originator.String(), Event: msg.Body})
	if err != nil {
		c.log.Errorf("event %s: %v", msg, err)
		return
	}
	c.pubTopic(c.cfgClient.topic(topicEvent), payload)
}

// PublishSystem publishes DMX frames raw on <prefix>/dmx and everything
// else as JSON on <prefix>/system/<kind>.
func (c *ClientMQTT) PublishSystem(m system.Message) {
	if m.Kind == system.KindDMX {
		c.pubTopic(c.cfgClient.topic(topicDMX), m.DMX)
		return
	}
	msg, err := json.Marshal(m)
	if err != nil {
		c.log.Errorf("system message %s: %v", m, err)
		return
	}
	c.pubTopic(c.cfgClient.topic(topicSystem, m.Kind.String()), msg)
}

// connectHandler (re)subscribes on every connect.
func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.Info("client connected to server")
	c.sub(c.cfgClient.topic(topicControl), c.controlHandler)
	c.sub(c.cfgClient.topic(topicCommand), c.commandHandler)
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.Debugf("unexpected message on topic: %s", msg.Topic())
}

func (c *ClientMQTT) controlHandler(_ mqtt.Client, msg mqtt.Message) {
	if err := c.handleControl(msg.Payload()); err != nil {
		c.log.Errorf("message could not be parsed (%s): %v", msg.Payload(), err)
	}
}

func (c *ClientMQTT) commandHandler(_ mqtt.Client, msg mqtt.Message) {
	if err := c.handleCommand(msg.Payload()); err != nil {
		c.log.Errorf("command rejected (%s): %v", msg.Payload(), err)
	}
}

// handleControl puts a JSON control event on the bus, tagged as coming from the web.
func (c *ClientMQTT) handleControl(payload []byte) error {
	var ev event.ControlEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	if err := event.Validate(ev); err != nil {
		return err
	}
	c.log.Debugf("control event: %s", ev)
	return c.bus.Send(event.NewMessage(event.OriginWeb, ev))
}

func (c *ClientMQTT) handleCommand(payload []byte) error {
	cmd, err := system.ParseCommand(payload)
	if err != nil {
		return err
	}
	select {
	case c.commands <- cmd:
		c.log.Debugf("command: %s", cmd)
		return nil
	default:
		return fmt.Errorf("command queue full, dropped %s", cmd)
	}
}

func (c *ClientMQTT) sub(topic string, handler mqtt.MessageHandler) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, handler)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.Debugf("topic %s subscribed", topic)
	}()
}

func (c *ClientMQTT) pubTopic(topic string, payload []byte) {
	if c.pub == nil {
		return
	}
	token := c.pub.Publish(topic, c.cfgClient.Qos, false, payload)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Debugf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}
