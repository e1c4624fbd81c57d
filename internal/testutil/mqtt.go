// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package testutil provides shared test doubles.
package testutil

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token is an already completed mqtt.Token.
type Token struct {
	Err error
}

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error                   { return t.Err }
func (t *Token) Done() <-chan struct{}          { return closedChan }

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Message is an in-memory mqtt.Message.
type Message struct {
	TopicName string
	Body      []byte
	Retain    bool
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 0 }
func (m *Message) Retained() bool    { return m.Retain }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

// Published records one Publish call.
type Published struct {
	Topic    string
	Retained bool
	Payload  []byte
}

// MQTTClient is an in-memory mqtt.Client. Methods not overridden here
// panic through the nil embedded interface.
type MQTTClient struct {
	mqtt.Client

	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	published  []Published
	connected  bool
	ConnectErr error
	SubErr     error
	PublishErr error
}

func NewMQTTClient() *MQTTClient {
	return &MQTTClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *MQTTClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr == nil {
		c.connected = true
	}
	return &Token{Err: c.ConnectErr}
}

func (c *MQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *MQTTClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *MQTTClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubErr == nil {
		c.handlers[topic] = cb
	}
	return &Token{Err: c.SubErr}
}

func (c *MQTTClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	default:
		return &Token{Err: fmt.Errorf("unsupported payload type %T", payload)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr != nil {
		return &Token{Err: c.PublishErr}
	}
	c.published = append(c.published, Published{Topic: topic, Retained: retained, Payload: body})
	return &Token{}
}

// Deliver hands payload to the handler subscribed on topic and reports
// whether one existed.
func (c *MQTTClient) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	cb, ok := c.handlers[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cb(c, &Message{TopicName: topic, Body: payload})
	return true
}

// Subscribed reports whether a handler is registered on topic.
func (c *MQTTClient) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

// Published returns a copy of every successful Publish call.
func (c *MQTTClient) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}
