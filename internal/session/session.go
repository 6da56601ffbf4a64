// Package session keeps short-lived per-subscriber conversation state and
// remembers which inbound updates were already processed.
package session

import (
	"context"
	"fmt"
)

// State is the step of a multi-message command a subscriber is in.
type State int

// Session states.
const (
	Idle State = iota
	AwaitingLinkInput
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingLinkInput:
		return "awaiting_link_input"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func parseState(v string) State {
	if v == AwaitingLinkInput.String() {
		return AwaitingLinkInput
	}
	return Idle
}

// Store holds the current State per subscriber key. Missing or expired
// entries read as Idle.
type Store interface {
	Get(ctx context.Context, key string) (State, error)
	Set(ctx context.Context, key string, st State) error
	Clear(ctx context.Context, key string) error
}

// Deduper reports whether a key is seen for the first time.
type Deduper interface {
	MarkOnce(ctx context.Context, key string) (bool, error)
}

// Key builds a subscriber key from a channel name and an external id.
func Key(channel, externalID string) string {
	return channel + ":" + externalID
}
