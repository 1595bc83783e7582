package media

import (
	"context"
	"errors"
)

// Provider is the provider-agnostic boundary to the media transport.
//
// Rules:
// - No media SDK types outside media adapters.
// - The call core never sees room URLs or credentials; it deals in room names and
//   the session handle below.
// - Codec/track negotiation is entirely the provider's problem.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// ProvisionRoom creates the room both parties will join.
	ProvisionRoom(ctx context.Context, roomName string) (Room, error)

	// Join connects a participant to a previously provisioned room.
	Join(ctx context.Context, req JoinRequest) (Session, error)
}

// Room identifies a provisioned media room.
type Room struct {
	RoomName string `json:"room_name"`
	// AppName is the media-app identifier embedded into the call record's room
	// descriptor so the other side knows where to join.
	AppName string `json:"app_name"`
}

type JoinRequest struct {
	RoomName    string `json:"room_name"`
	AppName     string `json:"app_name"`
	DisplayName string `json:"display_name"`
}

// Session is one participant's live connection to a room.
//
// Events delivers track/participant callbacks until Leave is called or the remote
// side tears the room down; after that the channel is closed. Leave is idempotent.
type Session interface {
	Events() <-chan Event
	Leave(ctx context.Context) error
	SetAudioEnabled(ctx context.Context, enabled bool) error
	SetVideoEnabled(ctx context.Context, enabled bool) error
}

type EventKind string

const (
	EventLocalTrackStarted  EventKind = "localTrackStarted"
	EventRemoteTrackStarted EventKind = "remoteTrackStarted"
	EventRemoteTrackStopped EventKind = "remoteTrackStopped"
	EventParticipantJoined  EventKind = "participantJoined"
	EventParticipantLeft    EventKind = "participantLeft"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type Event struct {
	Kind EventKind `json:"kind"`

	// Track metadata, set for track events.
	Track    TrackKind `json:"track,omitempty"`
	StreamID string    `json:"stream_id,omitempty"`

	// Participant display name, set for participant events.
	Participant string `json:"participant,omitempty"`
}

var (
	ErrRoomProvisioning = errors.New("media: room provisioning failed")
	ErrJoinFailed       = errors.New("media: join failed")
	ErrNotSupported     = errors.New("media: operation not supported by this provider")
)
