/*
 * backend/subscription/messages.go
 *
 * JSON frames exchanged with browser subscribers over the websocket.
 */

package subscription

import (
	"github.com/spyglass-view/spyglass/backend/dispatch"
	"github.com/spyglass-view/spyglass/backend/logbuf"
	"github.com/spyglass-view/spyglass/backend/room"
	"github.com/spyglass-view/spyglass/backend/stream"
	"github.com/spyglass-view/spyglass/backend/trace"
	"github.com/spyglass-view/spyglass/backend/watch"
)

// Client message kinds.
const (
	ClientSubscribe              = "subscribe"
	ClientPause                  = "pause"
	ClientResume                 = "resume"
	ClientGetSince               = "getSince"
	ClientSwitchRoom             = "switchRoom"
	ClientGetRooms               = "getRooms"
	ClientSubscribeStream        = "subscribeStream"
	ClientUnsubscribeStream      = "unsubscribeStream"
	ClientPauseStream            = "pauseStream"
	ClientResumeStream           = "resumeStream"
	ClientGetStreamSubscriptions = "getStreamSubscriptions"
)

// Server message kinds.
const (
	ServerInit                = "init"
	ServerEntries             = "entries"
	ServerWatch               = "watch"
	ServerStream              = "stream"
	ServerTrace               = "trace"
	ServerClear               = "clear"
	ServerClientConnect       = "clientConnect"
	ServerClientDisconnect    = "clientDisconnect"
	ServerConnectionEvent     = "connectionEvent"
	ServerRoomCreated         = "roomCreated"
	ServerRoomSwitched        = "roomSwitched"
	ServerRooms               = "rooms"
	ServerStreamSubscribed    = "streamSubscribed"
	ServerStreamUnsubscribed  = "streamUnsubscribed"
	ServerStreamPaused        = "streamPaused"
	ServerStreamResumed       = "streamResumed"
	ServerStreamSubscriptions = "streamSubscriptions"
	ServerError               = "error"
)

// ClientMessage is a command from a subscriber.
type ClientMessage struct {
	Kind    string         `json:"kind"`
	Room    string         `json:"room,omitempty"`
	SinceID uint64         `json:"sinceId,omitempty"`
	Channel string         `json:"channel,omitempty"`
	Filters *logbuf.Filter `json:"filters,omitempty"`
}

// InitPayload is the state snapshot sent when a subscriber joins a room.
type InitPayload struct {
	Room          string          `json:"room"`
	Stats         logbuf.Stats    `json:"stats"`
	Entries       []*logbuf.Entry `json:"entries"`
	Watches       []watch.Value   `json:"watches"`
	Sessions      []string        `json:"sessions"`
	Channels      []string        `json:"channels"`
	Traces        []trace.Summary `json:"traces"`
	ProducerCount int             `json:"producerCount"`
	Rooms         []room.Info     `json:"rooms"`
}

// ServerMessage is one frame pushed to a subscriber.
type ServerMessage struct {
	Kind     string                    `json:"kind"`
	Room     string                    `json:"room,omitempty"`
	Init     *InitPayload              `json:"init,omitempty"`
	Entries  []*logbuf.Entry           `json:"entries,omitempty"`
	Watch    *watch.Value              `json:"watch,omitempty"`
	Stream   *stream.Entry             `json:"stream,omitempty"`
	Trace    *trace.Summary            `json:"trace,omitempty"`
	Cleared  string                    `json:"cleared,omitempty"`
	Event    *dispatch.ConnectionEvent `json:"event,omitempty"`
	ClientID string                    `json:"clientId,omitempty"`
	Rooms    []room.Info               `json:"rooms,omitempty"`
	Channel  string                    `json:"channel,omitempty"`
	Channels []string                  `json:"channels,omitempty"`
	Error    string                    `json:"error,omitempty"`
}
