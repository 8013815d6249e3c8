// Package transport defines the contract every carrier between a host and its
// players satisfies, plus the same-device local carrier.
package transport

import (
	"context"
	"errors"

	"github.com/DoyleJ11/quizroom-backend/pkg/types"
)

var ErrClosed = errors.New("carrier closed")

// ErrWrongRoom is returned by Publish when code is not the carrier's room.
var ErrWrongRoom = errors.New("carrier bound to another room")

// Handler receives every decoded message a carrier delivers for a room.
// Handlers run on the carrier's delivery goroutine, one message at a time.
type Handler func(code string, msg types.Message)

// Carrier moves messages for one room. Publish is fire-and-forget: a nil
// error means the message left this endpoint, not that anyone received it.
type Carrier interface {
	Publish(ctx context.Context, code string, msg types.Message) error
	OnMessage(h Handler)
	Close() error
}

// Kind names a carrier implementation, chosen when a room is created.
type Kind string

const (
	KindLocal Kind = "local"
	KindRelay Kind = "relay"
	KindNATS  Kind = "nats"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLocal, KindRelay, KindNATS:
		return Kind(s), nil
	case "":
		return KindRelay, nil
	default:
		return "", errors.New("unknown transport " + s)
	}
}
