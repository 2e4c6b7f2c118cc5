// Package mqttsub receives tracker publishes from an MQTT broker.
package mqttsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PublishMessage is a QoS 0 publish received from the broker.
type PublishMessage struct {
	Topic   string
	Payload []byte
}

// Handler is invoked for each received publish message.
type Handler func(context.Context, PublishMessage)

// Options configures the broker connection.
type Options struct {
	Broker         string
	ClientID       string
	Topic          string
	ConnectTimeout time.Duration
}

// Subscriber holds a paho client subscribed to one topic filter.
type Subscriber struct {
	logger  *slog.Logger
	opts    Options
	handler atomic.Value // stores Handler

	mu     sync.Mutex
	client mqtt.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a subscriber with the supplied logger.
func New(opts Options, logger *slog.Logger) *Subscriber {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	s := &Subscriber{logger: logger, opts: opts}
	s.handler.Store(Handler(func(context.Context, PublishMessage) {}))
	return s
}

// SetPublishHandler installs the function invoked for each received publish.
func (s *Subscriber) SetPublishHandler(h Handler) {
	if h == nil {
		h = func(context.Context, PublishMessage) {}
	}
	s.handler.Store(h)
}

// Start connects to the broker and subscribes. The subscription is renewed on every reconnect.
// Handlers receive a context that is cancelled by Stop or by the parent ctx.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.opts.Broker == "" {
		return errors.New("mqtt broker address is empty")
	}
	if s.opts.Topic == "" {
		return errors.New("mqtt topic is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return errors.New("mqtt subscriber already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	clientOpts := mqtt.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(s.opts.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(s.opts.ConnectTimeout).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", "broker", s.opts.Broker, "error", err)
		})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(s.opts.ConnectTimeout) {
		s.cancel()
		return fmt.Errorf("mqtt connect: timed out after %s", s.opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		s.cancel()
		return fmt.Errorf("mqtt connect: %w", err)
	}

	s.client = client
	return nil
}

func (s *Subscriber) onConnect(c mqtt.Client) {
	s.logger.Info("mqtt connected", "broker", s.opts.Broker, "topic", s.opts.Topic)
	token := c.Subscribe(s.opts.Topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		s.Dispatch(PublishMessage{Topic: m.Topic(), Payload: m.Payload()})
	})
	if !token.WaitTimeout(s.opts.ConnectTimeout) {
		s.logger.Error("mqtt subscribe timed out", "topic", s.opts.Topic)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("mqtt subscribe failed", "topic", s.opts.Topic, "error", err)
	}
}

// Dispatch hands a message to the installed handler, recovering from panics.
func (s *Subscriber) Dispatch(msg PublishMessage) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if h, ok := s.handler.Load().(Handler); ok {
		safeInvoke(h, ctx, msg, s.logger)
	}
}

// Connected reports whether the broker connection is currently open.
func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.IsConnectionOpen()
}

// Stop unsubscribes and disconnects. It is safe to call more than once.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client == nil {
		return nil
	}

	if client.IsConnectionOpen() {
		token := client.Unsubscribe(s.opts.Topic)
		token.WaitTimeout(2 * time.Second)
	}
	client.Disconnect(250)
	return nil
}

func safeInvoke(h Handler, ctx context.Context, msg PublishMessage, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("publish handler panic", "topic", msg.Topic, "panic", r)
		}
	}()
	h(ctx, msg)
}
