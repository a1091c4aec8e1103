package room

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"cotowatch/model"
)

// HistoryLimit is how many chat messages a newly opened connection receives.
const HistoryLimit = 50

// Inbound message types.
const (
	MsgChat               = "chat"
	MsgParticipantsUpdate = "participants_update"
	MsgPlaylistSelect     = "playlist_select"
	MsgPlay               = "play"
	MsgPause              = "pause"
	MsgSeek               = "seek"
	MsgKeyframe           = "keyframe"
	MsgPing               = "ping"
	MsgRequestState       = "request_state"
)

// Outbound message types.
const (
	MsgHistory        = "history"
	MsgParticipants   = "participants"
	MsgMessage        = "message"
	MsgPlayerState    = "player_state"
	MsgPlaylistChange = "playlist_change"
	MsgPong           = "pong"
)

// Topic names the fan-out channel of a room.
func Topic(roomID int64) string {
	return "watchparty_" + strconv.FormatInt(roomID, 10)
}

// ChatLine is one entry of a history frame and the body of a message frame.
type ChatLine struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	System   bool   `json:"system"`
}

type historyFrame struct {
	Type     string     `json:"type"`
	Messages []ChatLine `json:"messages"`
}

type participantsFrame struct {
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
}

type messageFrame struct {
	Type string `json:"type"`
	ChatLine
}

type playerStateFrame struct {
	Type  string                   `json:"type"`
	State *model.RoomPlaybackState `json:"state"`
}

type playlistChangeFrame struct {
	Type string          `json:"type"`
	Item json.RawMessage `json:"item"`
	By   string          `json:"by"`
}

type pongFrame struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts"`
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// only plain structs of strings, numbers and raw JSON reach here
		panic(err)
	}
	return data
}

func participantsPayload(names []string) []byte {
	if names == nil {
		names = []string{}
	}
	return mustJSON(participantsFrame{Type: MsgParticipants, Participants: names})
}

func historyPayload(msgs []*model.ChatMessage) []byte {
	lines := make([]ChatLine, 0, len(msgs))
	for _, m := range msgs {
		name := m.Username
		if name == "" {
			name = model.SystemUsername
		}
		lines = append(lines, ChatLine{Username: name, Message: m.Content, System: m.IsSystem})
	}
	return mustJSON(historyFrame{Type: MsgHistory, Messages: lines})
}

func messagePayload(line ChatLine) []byte {
	return mustJSON(messageFrame{Type: MsgMessage, ChatLine: line})
}

func playerStatePayload(state *model.RoomPlaybackState) []byte {
	return mustJSON(playerStateFrame{Type: MsgPlayerState, State: state})
}

func playlistChangePayload(item json.RawMessage, by string) []byte {
	if len(item) == 0 {
		item = json.RawMessage("null")
	}
	return mustJSON(playlistChangeFrame{Type: MsgPlaylistChange, Item: item, By: by})
}

func pongPayload(ts int64) []byte {
	return mustJSON(pongFrame{Type: MsgPong, Ts: ts})
}

// inbound is a decoded client frame. Fields are kept raw so that missing or
// oddly typed values fall back to defaults instead of rejecting the frame.
type inbound map[string]json.RawMessage

// parseInbound returns nil when data is not a JSON object.
func parseInbound(data []byte) inbound {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return nil
	}
	return inbound(m)
}

func (in inbound) str(key string) string {
	raw, ok := in[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func (in inbound) boolean(key string) bool {
	raw, ok := in[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return false
}

// number accepts JSON numbers and numeric strings.
func (in inbound) number(key string) (float64, bool) {
	raw, ok := in[key]
	if !ok {
		return 0, false
	}
	return looseNumber(raw)
}

func (in inbound) object(key string) inbound {
	raw, ok := in[key]
	if !ok {
		return nil
	}
	return parseInbound(raw)
}

// looseNumber only yields finite values; "NaN" and "Inf" strings count as unparseable.
func looseNumber(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// maxExactInt bounds floats that convert to int64 without overflow.
const maxExactInt = 1 << 53

// videoID reads an item's video_id, which clients send as either a number or a string.
func (in inbound) videoID(key string) *int64 {
	f, ok := in.number(key)
	if !ok || f <= 0 || f >= maxExactInt {
		return nil
	}
	id := int64(f)
	return &id
}
