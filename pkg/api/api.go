// Package api defines the control-channel message vocabulary shared by the
// relay, the coordinator console, and the student agents.
//
// Each message is a JSON-encoded "packet" of the following structure:
//
//	id - (optional) a globally unique packet id;
//	 t - (required) one of the predefined unique packet types;
//	 p - (optional) packet payload with arbitrary data.
//
// Packets differentiate by their predefined types with which it is possible
// to unwrap the payload into distinct request/response data structures, so
// the relay internals only ever consume strongly-typed values. The id field
// tracks request/response pairs through the relay, for example, a resume
// request from a console routed back with the missing chunk list.
package api

import "github.com/goccy/go-json"

type PT uint8

type In struct {
	Id      string          `json:"id,omitempty"`
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // 2-pass unmarshal
}

type Out struct {
	Id      string `json:"id,omitempty"`
	T       uint8  `json:"t"`
	Payload any    `json:"p,omitempty"`
}

// Packet codes:
//
//	x    - session codes
//	1x   - lock codes
//	2x   - frame codes
//	3x   - remote control codes
//	4x   - file transfer codes
const (
	Register   PT = 1
	ClientList PT = 2

	LockClient   PT = 10
	UnlockClient PT = 11
	LockAll      PT = 12
	UnlockAll    PT = 13
	Lock         PT = 14
	Unlock       PT = 15

	ScreenFrame PT = 20
	H264Frame   PT = 21

	StartControl       PT = 30
	StopControl        PT = 31
	RequestScreenSize  PT = 32
	ScreenSizeResponse PT = 33
	MouseMove          PT = 34
	MouseClick         PT = 35
	MouseScroll        PT = 36
	KeyPress           PT = 37

	FileStart    PT = 40
	FileChunk    PT = 41
	FileProgress PT = 42
	FileComplete PT = 43
	FileError    PT = 44
	FileResume   PT = 45
	FileCancel   PT = 46
)

func (p PT) String() string {
	switch p {
	case Register:
		return "Register"
	case ClientList:
		return "ClientList"
	case LockClient:
		return "LockClient"
	case UnlockClient:
		return "UnlockClient"
	case LockAll:
		return "LockAll"
	case UnlockAll:
		return "UnlockAll"
	case Lock:
		return "Lock"
	case Unlock:
		return "Unlock"
	case ScreenFrame:
		return "ScreenFrame"
	case H264Frame:
		return "H264Frame"
	case StartControl:
		return "StartControl"
	case StopControl:
		return "StopControl"
	case RequestScreenSize:
		return "RequestScreenSize"
	case ScreenSizeResponse:
		return "ScreenSizeResponse"
	case MouseMove:
		return "MouseMove"
	case MouseClick:
		return "MouseClick"
	case MouseScroll:
		return "MouseScroll"
	case KeyPress:
		return "KeyPress"
	case FileStart:
		return "FileStart"
	case FileChunk:
		return "FileChunk"
	case FileProgress:
		return "FileProgress"
	case FileComplete:
		return "FileComplete"
	case FileError:
		return "FileError"
	case FileResume:
		return "FileResume"
	case FileCancel:
		return "FileCancel"
	default:
		return "Unknown"
	}
}

// Unwrap decodes a payload into T, nil on any decode error.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
