package types

import (
	"encoding/json"
	"fmt"
)

type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return json.Marshal(Envelope{Type: m.Kind(), Payload: payload})
}

// PeekKind reads only the discriminator, leaving the payload untouched.
func PeekKind(data []byte) (Kind, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return env.Type, nil
}

// Decode parses an envelope and validates the fields each kind requires.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedMessage)
	}

	switch env.Type {
	case KindJoin:
		var m Join
		if err := unmarshalPayload(env, &m); err != nil {
			return nil, err
		}
		if m.PlayerID == "" || m.Name == "" {
			return nil, fmt.Errorf("%w: JOIN requires playerId and name", ErrMalformedMessage)
		}
		return m, nil

	case KindAnswer:
		var m Answer
		if err := unmarshalPayload(env, &m); err != nil {
			return nil, err
		}
		if !hasOptionIndex(env.Payload) {
			return nil, fmt.Errorf("%w: ANSWER requires optionIndex", ErrMalformedMessage)
		}
		if m.PlayerID == "" || m.OptionIndex < 0 || m.ElapsedMs < 0 {
			return nil, fmt.Errorf("%w: ANSWER requires playerId and non-negative optionIndex/elapsedMs", ErrMalformedMessage)
		}
		return m, nil

	case KindSmash:
		var m Smash
		if err := unmarshalPayload(env, &m); err != nil {
			return nil, err
		}
		if !hasOptionIndex(env.Payload) {
			return nil, fmt.Errorf("%w: SMASH requires optionIndex", ErrMalformedMessage)
		}
		if m.PlayerID == "" || m.OptionIndex < 0 {
			return nil, fmt.Errorf("%w: SMASH requires playerId and non-negative optionIndex", ErrMalformedMessage)
		}
		return m, nil

	case KindStateUpdate:
		var m StateUpdate
		if err := unmarshalPayload(env, &m); err != nil {
			return nil, err
		}
		if m.Phase == "" {
			return nil, fmt.Errorf("%w: STATE_UPDATE requires phase", ErrMalformedMessage)
		}
		return m, nil

	case KindError:
		var m Error
		if err := unmarshalPayload(env, &m); err != nil {
			return nil, err
		}
		if m.Code == "" {
			return nil, fmt.Errorf("%w: ERROR requires code", ErrMalformedMessage)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
	}
}

func unmarshalPayload(env Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, env.Type, err)
	}
	return nil
}

// hasOptionIndex tells an absent optionIndex apart from option 0.
func hasOptionIndex(payload json.RawMessage) bool {
	var fields struct {
		OptionIndex *int `json:"optionIndex"`
	}
	return json.Unmarshal(payload, &fields) == nil && fields.OptionIndex != nil
}
