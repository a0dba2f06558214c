package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedFrame = errors.New("malformed frame")
var ErrUnknownType = errors.New("unknown message type")

// Client -> server frame types.
const (
	TypeMatchRequest   = "match_request"
	TypeCancelMatching = "cancel_matching"
	TypeJoinGame       = "join_game"
	TypePaddleMove     = "paddle_move"
	TypeInterrupted    = "game_interrupted"
)

// Server -> client frame types.
const (
	TypeMatchFound      = "match_found"
	TypeMatchStatus     = "match_status"
	TypePlayerJoined    = "player_joined"
	TypeGameStateUpdate = "game_state_update"
	TypeGameStart       = "game_start"
	TypeGameEnd         = "game_end"
	TypeError           = "error"
)

// Interruption reason codes.
const (
	ReasonReload     = "reload"
	ReasonNavigation = "navigation"
	ReasonDisconnect = "disconnect"
)

// Profile is the public identity a player presents while matchmaking.
type Profile struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type ClientFrame struct {
	Type         string   `json:"type"`
	Mode         string   `json:"mode,omitempty"`
	Profile      *Profile `json:"profile,omitempty"`
	RoomKey      string   `json:"room_key,omitempty"`
	PlayerNumber int      `json:"player_number,omitempty"`
	Position     float64  `json:"position,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// DecodeClient validates one inbound frame. A failure here drops the frame
// only; the caller must keep the connection alive.
func DecodeClient(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Type {
	case TypeMatchRequest, TypeCancelMatching:
		return f, nil
	case TypeJoinGame:
		if f.RoomKey == "" || f.PlayerNumber < 1 || f.PlayerNumber > 4 {
			return ClientFrame{}, fmt.Errorf("%w: join_game needs room_key and player_number 1..4", ErrMalformedFrame)
		}
		return f, nil
	case TypePaddleMove:
		if f.PlayerNumber < 1 || f.PlayerNumber > 4 {
			return ClientFrame{}, fmt.Errorf("%w: paddle_move needs player_number 1..4", ErrMalformedFrame)
		}
		return f, nil
	case TypeInterrupted:
		switch f.Reason {
		case ReasonReload, ReasonNavigation, ReasonDisconnect:
			return f, nil
		}
		return ClientFrame{}, fmt.Errorf("%w: bad interruption reason %q", ErrMalformedFrame, f.Reason)
	default:
		return ClientFrame{}, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}

type BallState struct {
	X  float64 `json:"x"`
	Z  float64 `json:"z"`
	VX float64 `json:"vx"`
	VZ float64 `json:"vz"`
}

type ServerFrame struct {
	Type         string         `json:"type"`
	Opponent     *Profile       `json:"opponent,omitempty"`
	RoomKey      string         `json:"room_key,omitempty"`
	PlayerNumber int            `json:"player_number,omitempty"`
	Position     float64        `json:"position,omitempty"`
	Text         string         `json:"text,omitempty"`
	Balls        []BallState    `json:"ball,omitempty"`
	Score        map[string]int `json:"score,omitempty"`
	Winner       int            `json:"winner,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

func EncodeServer(f ServerFrame) []byte {
	payload, _ := json.Marshal(f)
	return payload
}

func DecodeServer(data []byte) (ServerFrame, error) {
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ServerFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// ScoreMap renders per-slot scores under the wire keys the client expects
// ("player1".."player4").
func ScoreMap(scores map[int]int) map[string]int {
	out := make(map[string]int, len(scores))
	for slot, score := range scores {
		out[fmt.Sprintf("player%d", slot)] = score
	}
	return out
}
