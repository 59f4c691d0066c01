// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package eventbus

import (
	"sync"

	"github.com/stratachain/strata/pkg/p2p/wire/topics"
)

// Message is anything a Listener can be Notified with. Concrete message
// payloads live in pkg/p2p/wire/message.
type Message interface {
	Topic() topics.Topic
}

// Listener is notified whenever a message arrives on a subscribed topic.
type Listener interface {
	Notify(Message) error
}

// ChannelListener forwards every notification onto a buffered channel. Used
// by components (mempool, chain) that want to process inbound messages on
// their own goroutine, at their own pace.
type ChannelListener struct {
	messageChan chan<- Message
}

// NewChannelListener returns a Listener that writes to ch.
func NewChannelListener(ch chan<- Message) *ChannelListener {
	return &ChannelListener{messageChan: ch}
}

// Notify implements Listener.
func (c *ChannelListener) Notify(m Message) error {
	select {
	case c.messageChan <- m:
	default:
		// A full channel means the consumer isn't keeping up; drop rather
		// than block the bus.
	}
	return nil
}

// CallbackListener invokes a plain function for every notification.
type CallbackListener struct {
	callback func(Message) error
}

// NewCallbackListener returns a Listener wrapping fn.
func NewCallbackListener(fn func(Message) error) *CallbackListener {
	return &CallbackListener{callback: fn}
}

// Notify implements Listener.
func (c *CallbackListener) Notify(m Message) error {
	return c.callback(m)
}

// SafeCallbackListener is a CallbackListener that recovers from panics in
// the wrapped function, so a bad handler cannot take down the bus.
type SafeCallbackListener struct {
	callback func(Message) error
}

// NewSafeCallbackListener returns a panic-safe Listener wrapping fn.
func NewSafeCallbackListener(fn func(Message) error) *SafeCallbackListener {
	return &SafeCallbackListener{callback: fn}
}

// Notify implements Listener.
func (c *SafeCallbackListener) Notify(m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = nil
		}
	}()
	return c.callback(m)
}

type idListener struct {
	id uint32
	Listener
}

type listenerMap struct {
	mu        sync.RWMutex
	listeners map[topics.Topic][]idListener
	nextID    uint32
}

func newListenerMap() *listenerMap {
	return &listenerMap{listeners: make(map[topics.Topic][]idListener)}
}

func (l *listenerMap) Store(topic topics.Topic, listener Listener) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.listeners[topic] = append(l.listeners[topic], idListener{id: id, Listener: listener})
	return id
}

func (l *listenerMap) Delete(topic topics.Topic, id uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.listeners[topic]
	for i, il := range list {
		if il.id == id {
			l.listeners[topic] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (l *listenerMap) Load(topic topics.Topic) []idListener {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]idListener, len(l.listeners[topic]))
	copy(out, l.listeners[topic])
	return out
}

// EventBus is an in-process, topic-keyed publish/subscribe broker. It is
// the only channel through which the wire dispatcher hands inbound
// messages to consensus phases, the chain FSM and the mempool.
type EventBus struct {
	listeners *listenerMap
}

// Broker is the narrow interface consumers depend on.
type Broker interface {
	Subscriber
	Publish(Message)
}

// New returns an empty EventBus.
func New() *EventBus {
	return &EventBus{listeners: newListenerMap()}
}

// Publish delivers m to every listener subscribed to m.Topic(). Listener
// panics are contained by SafeCallbackListener; plain CallbackListener and
// ChannelListener implementations are expected to not panic.
func (bus *EventBus) Publish(m Message) {
	for _, il := range bus.listeners.Load(m.Topic()) {
		_ = il.Notify(m)
	}
}
