// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package rpcbus is a request/response complement to eventbus: where
// eventbus fans a message out to every subscriber, rpcbus routes a single
// call to the one component registered for a topic and waits for its
// answer. The chain FSM and mempool use it to reach across goroutine
// boundaries without sharing state directly.
package rpcbus

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRequestTimeout is returned by Call when no response arrives within
// the given timeout.
var ErrRequestTimeout = errors.New("rpcbus: request timed out")

// Topic names an rpcbus call, distinct from eventbus/p2p topics since
// rpcbus is request/response rather than fan-out.
type Topic uint8

// The calls the chain FSM, mempool and consensus phases expose to each
// other across goroutine boundaries.
const (
	// GetMempoolTxs answers with every admitted transaction; the request
	// parameters are ignored.
	GetMempoolTxs Topic = iota
	// GetMempoolTxsBySize names a call for transactions up to a byte
	// budget, highest gas-price first; no component in this module
	// registers a handler for it.
	GetMempoolTxsBySize
	// SendMempoolTx submits a transaction for admission.
	SendMempoolTx
	// GetCandidate answers with the candidate block for a given hash.
	GetCandidate
	// GetLastBlock answers with the current chain tip.
	GetLastBlock
	// GetLastCertificate answers with the chain tip's attestation.
	GetLastCertificate
	// VerifyCandidateBlock asks the chain to validate a candidate
	// without accepting it.
	VerifyCandidateBlock
)

var topicNames = map[Topic]string{
	GetMempoolTxs:         "GetMempoolTxs",
	GetMempoolTxsBySize:   "GetMempoolTxsBySize",
	SendMempoolTx:         "SendMempoolTx",
	GetCandidate:          "GetCandidate",
	GetLastBlock:          "GetLastBlock",
	GetLastCertificate:    "GetLastCertificate",
	VerifyCandidateBlock:  "VerifyCandidateBlock",
}

func (t Topic) String() string {
	if n, ok := topicNames[t]; ok {
		return n
	}
	return "unknown"
}

// Request is a call addressed to whichever component registered the
// request's topic, carrying opaque, caller-encoded parameters.
type Request struct {
	Params   bytes.Buffer
	RespChan chan Response
}

// NewRequest builds a Request with a buffered response channel.
func NewRequest(params bytes.Buffer) Request {
	return Request{Params: params, RespChan: make(chan Response, 1)}
}

// Response is the callee's answer to a Request.
type Response struct {
	Resp bytes.Buffer
	Err  error
}

// RPCBus routes Requests to the single registered handler channel for a
// topic.
type RPCBus struct {
	mu       sync.RWMutex
	handlers map[Topic]chan Request
}

// New returns an empty RPCBus.
func New() *RPCBus {
	return &RPCBus{handlers: make(map[Topic]chan Request)}
}

// Register binds a topic to the channel its handler reads requests from.
// Registering a topic that already has a handler returns an error and
// leaves the existing binding in place.
func (b *RPCBus) Register(topic Topic, ch chan Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[topic]; ok {
		return fmt.Errorf("rpcbus: topic %s already registered", topic)
	}

	b.handlers[topic] = ch
	return nil
}

// Deregister removes the handler bound to topic, if any.
func (b *RPCBus) Deregister(topic Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
}

// Call dispatches req to topic's handler and blocks until the handler
// responds or timeout elapses. A timeout of zero waits indefinitely. If
// the handler's channel is full, Call returns an error at once.
func (b *RPCBus) Call(topic Topic, req Request, timeout time.Duration) (bytes.Buffer, error) {
	b.mu.RLock()
	ch, ok := b.handlers[topic]
	b.mu.RUnlock()

	if !ok {
		return bytes.Buffer{}, fmt.Errorf("rpcbus: no handler registered for %s", topic)
	}

	select {
	case ch <- req:
	default:
		return bytes.Buffer{}, fmt.Errorf("rpcbus: handler for %s is not ready", topic)
	}

	if timeout == 0 {
		resp := <-req.RespChan
		return resp.Resp, resp.Err
	}

	select {
	case resp := <-req.RespChan:
		return resp.Resp, resp.Err
	case <-time.After(timeout):
		return bytes.Buffer{}, ErrRequestTimeout
	}
}
