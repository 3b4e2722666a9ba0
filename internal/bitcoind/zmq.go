// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bitcoind

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/blockhash"
)

// hashblockTopic is the ZMQ publish topic this indexer subscribes to, per
// spec.md §6.
const hashblockTopic = "hashblock"

// HashBlockNotification is one decoded ZMQ hashblock message: the newly
// connected block's hash and bitcoind's internal sequence counter.
type HashBlockNotification struct {
	Hash     blockhash.Hash
	Sequence uint32
}

// ZMQSubscriber subscribes to bitcoind's hashblock topic and decodes the
// three-frame [topic, hash, sequence] message spec.md §6 describes. On
// decode error or socket error it rebuilds the socket and resubscribes,
// expressed as the explicit recv -> decode -> enqueue -> drain -> loop
// state machine spec.md §9 calls for in place of hidden coroutine control
// flow.
type ZMQSubscriber struct {
	url string
}

// NewZMQSubscriber constructs a subscriber against the given ZMQ endpoint
// (e.g. tcp://127.0.0.1:28332).
func NewZMQSubscriber(url string) *ZMQSubscriber {
	return &ZMQSubscriber{url: url}
}

// Run subscribes and delivers decoded notifications to notifyFn until ctx
// is cancelled. Socket errors trigger a resubscribe rather than returning;
// Run only returns (with ctx.Err()) when the context is cancelled.
func (s *ZMQSubscriber) Run(ctx context.Context, notifyFn func(HashBlockNotification)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.runOnce(ctx, notifyFn); err != nil {
			log.Warnf("zmq subscriber error, resubscribing: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
	}
}

func (s *ZMQSubscriber) runOnce(ctx context.Context, notifyFn func(HashBlockNotification)) error {
	sock := zmq4.NewSub(ctx,
		zmq4.WithTimeout(0), // socket timeout option only; no receive HWM or TCP keepalive is set
		zmq4.WithDialerRetry(time.Second),
	)
	defer sock.Close()

	if err := sock.Dial(s.url); err != nil {
		return errors.Wrapf(err, "dialing zmq endpoint %s", s.url)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, hashblockTopic); err != nil {
		return errors.Wrap(err, "subscribing to hashblock topic")
	}

	for {
		msg, err := sock.Recv()
		if err != nil {
			return errors.Wrap(err, "receiving zmq message")
		}
		notification, err := decodeHashBlock(msg.Frames)
		if err != nil {
			return errors.Wrap(err, "decoding hashblock message")
		}
		notifyFn(notification)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func decodeHashBlock(frames [][]byte) (HashBlockNotification, error) {
	if len(frames) != 3 {
		return HashBlockNotification{}, errors.Errorf("expected 3 frames, got %d", len(frames))
	}
	if string(frames[0]) != hashblockTopic {
		return HashBlockNotification{}, errors.Errorf("unexpected topic %q", frames[0])
	}
	hash, err := blockhash.NewFromSlice(frames[1])
	if err != nil {
		return HashBlockNotification{}, errors.Wrap(err, "decoding block hash frame")
	}
	if len(frames[2]) != 4 {
		return HashBlockNotification{}, errors.Errorf("expected 4-byte sequence frame, got %d bytes", len(frames[2]))
	}
	seq := binary.LittleEndian.Uint32(frames[2])
	return HashBlockNotification{Hash: hash, Sequence: seq}, nil
}
