package clientmqtt

import (
	"strings"
	"time"

	"blaulicht/internal/event"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// eventPayload is a bus message as published on <prefix>/event.
type eventPayload struct {
	Originator string             `json:"originator"`
	Event      event.ControlEvent `json:"event"`
}

type MQTTConf struct {
	ClientID    string // ClientID - уникальное имя клиента для брокеров.
	Schema      string // Schema - тип подключения.
	Host        string // Host - адрес MQTT сервера.
	Port        string // Port - порт MQTT сервера.
	User        string // User - логин для подключения к MQTT серверу.
	Password    string // Password - пароль для подключения к MQTT серверу.
	Qos         byte   // Qos - качество обслуживания для публикаций.
	TopicPrefix string // TopicPrefix - корень всех топиков.
}

// topic joins parts below the configured prefix.
func (c MQTTConf) topic(parts ...string) string {
	return strings.Join(append([]string{c.TopicPrefix}, parts...), "/")
}

// publisher is the part of mqtt.Client used for outgoing data.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

const (
	topicControl = "control"
	topicCommand = "command"
	topicSignal  = "signal"
	topicSystem  = "system"
	topicDMX     = "dmx"
	topicEvent   = "event"

	retryInterval = 5 * time.Second
)
