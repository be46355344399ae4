package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Token is one per-segment liveness flag.
type Token int

const (
	TokenDown  Token = 0
	TokenAlive Token = 1
)

// TokenOf converts a health flag into a token.
func TokenOf(alive bool) Token {
	if alive {
		return TokenAlive
	}
	return TokenDown
}

// Alive reports whether the token marks a live segment.
func (t Token) Alive() bool { return t == TokenAlive }

// UnmarshalJSON accepts integers, booleans and string tokens.
func (t *Token) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("watchdog: empty token")
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "ok", "alive", "up":
			*t = TokenAlive
		case "0", "false", "down", "dead", "":
			*t = TokenDown
		default:
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("watchdog: unknown token %q", s)
			}
			*t = TokenOf(n > 0)
		}
		return nil
	case 't', 'f':
		var v bool
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*t = TokenOf(v)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("watchdog: token: %w", err)
	}
	*t = TokenOf(n > 0)
	return nil
}

// WatchdogStatusList is the liveness snapshot of the local segment (index 0)
// and every segment behind it.
type WatchdogStatusList []Token

// Clone returns an independent copy.
func (l WatchdogStatusList) Clone() WatchdogStatusList {
	out := make(WatchdogStatusList, len(l))
	copy(out, l)
	return out
}

// Ints returns the list as plain integers, for recording.
func (l WatchdogStatusList) Ints() []int {
	out := make([]int, len(l))
	for i, t := range l {
		out[i] = int(t)
	}
	return out
}

// AllAlive reports whether every segment in the list is alive.
func (l WatchdogStatusList) AllAlive() bool {
	for _, t := range l {
		if !t.Alive() {
			return false
		}
	}
	return len(l) > 0
}

// DecodeStatus parses a watchdog reply payload.
func DecodeStatus(b []byte) (WatchdogStatusList, error) {
	if len(b) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	var l WatchdogStatusList
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, fmt.Errorf("watchdog: decode: %w", err)
	}
	return l, nil
}

// EncodeStatus serialises a watchdog reply payload.
func EncodeStatus(l WatchdogStatusList) ([]byte, error) {
	if l == nil {
		l = WatchdogStatusList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("watchdog: encode: %w", err)
	}
	if len(b) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	return b, nil
}
