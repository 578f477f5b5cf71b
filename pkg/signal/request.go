package signal

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Request is one of the frames a participant may send: *CreateRoom,
// *JoinRoom, *LeaveRoom or *Relay. The set is closed.
type Request interface {
	Kind() MessageType
	request()
}

type CreateRoom struct{}

type JoinRoom struct {
	RoomCode string `json:"roomCode"`
}

type LeaveRoom struct {
	RoomCode string `json:"roomCode"`
}

// Relay is an offer, answer or ICE candidate. Raw holds the frame exactly
// as received; the relay forwards it without looking inside.
type Relay struct {
	Type MessageType
	Raw  []byte
}

func (*CreateRoom) Kind() MessageType { return MsgTypeCreateRoom }
func (*JoinRoom) Kind() MessageType   { return MsgTypeJoinRoom }
func (*LeaveRoom) Kind() MessageType  { return MsgTypeLeaveRoom }
func (r *Relay) Kind() MessageType    { return r.Type }

func (*CreateRoom) request() {}
func (*JoinRoom) request()   {}
func (*LeaveRoom) request()  {}
func (*Relay) request()      {}

// DecodeRequest parses a client frame into its Request variant.
func DecodeRequest(b []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case MsgTypeCreateRoom:
		return &CreateRoom{}, nil
	case MsgTypeJoinRoom:
		var req JoinRoom
		if err := decodeData(env, &req); err != nil {
			return nil, err
		}
		return &req, nil
	case MsgTypeLeaveRoom:
		var req LeaveRoom
		if err := decodeData(env, &req); err != nil {
			return nil, err
		}
		return &req, nil
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeICECandidate:
		raw := make([]byte, len(b))
		copy(raw, b)
		return &Relay{Type: env.Type, Raw: raw}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s requires data", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return nil
}
