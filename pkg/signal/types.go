// Package signal defines the JSON frames exchanged between participants
// and the relay.
package signal

import "encoding/json"

// MessageType is the "type" field of every frame.
type MessageType string

// Client → relay.
const (
	MsgTypeCreateRoom   MessageType = "create-room"
	MsgTypeJoinRoom     MessageType = "join-room"
	MsgTypeLeaveRoom    MessageType = "leave-room"
	MsgTypeOffer        MessageType = "webrtc-offer"
	MsgTypeAnswer       MessageType = "webrtc-answer"
	MsgTypeICECandidate MessageType = "ice-candidate"
)

// Relay → client. Offer, answer and candidate frames are also delivered
// unchanged to the other room members.
const (
	MsgTypeRoomCreated  MessageType = "room-created"
	MsgTypeRoomJoined   MessageType = "room-joined"
	MsgTypeRoomLeft     MessageType = "room-left"
	MsgTypeViewerJoined MessageType = "viewer-joined"
	MsgTypeViewerLeft   MessageType = "viewer-left"
	MsgTypeHostLeft     MessageType = "host-left"
	MsgTypeRoomClosed   MessageType = "room-closed"
	MsgTypeError        MessageType = "error"
)

// Envelope is the outer shape of a frame.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type RoomCreated struct {
	RoomCode      string `json:"roomCode,omitempty"`
	Success       bool   `json:"success"`
	ParticipantID string `json:"participantId,omitempty"`
	Error         string `json:"error,omitempty"`
}

type RoomJoined struct {
	RoomCode      string `json:"roomCode,omitempty"`
	Success       bool   `json:"success"`
	ViewerCount   int    `json:"viewerCount,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	Error         string `json:"error,omitempty"`
}

type RoomLeft struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ViewerJoined struct {
	ViewerID    string `json:"viewerId"`
	ViewerCount int    `json:"viewerCount"`
}

type ViewerLeft struct {
	ViewerID    string `json:"viewerId"`
	ViewerCount int    `json:"viewerCount"`
}

type HostLeft struct {
	HostID   string `json:"hostId"`
	RoomCode string `json:"roomCode"`
}

// RoomClosed tells members the relay dropped their room.
type RoomClosed struct {
	RoomCode string `json:"roomCode"`
	Reason   string `json:"reason"`
}

type Error struct {
	Message string `json:"message"`
}

// Encode wraps payload in an envelope of type t.
func Encode(t MessageType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}
