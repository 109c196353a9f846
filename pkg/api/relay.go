package api

// Participant roles as claimed in a register packet.
const (
	RoleCoordinator = "coordinator"
	RoleAgent       = "agent"
)

type RegisterRequest struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Token string `json:"token,omitempty"`
}

// ClientInfo is one row of the full registry snapshot
// sent to every coordinator.
type ClientInfo struct {
	Id   string `json:"id"`
	Ip   string `json:"ip"`
	Name string `json:"name"`
}

// LockRequest addresses a single agent (lock-client/unlock-client)
// or, with an empty id, nobody in particular (lock-all/unlock-all).
type LockRequest struct {
	Id      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// LockEvent is what an agent receives.
type LockEvent struct {
	Message string `json:"message,omitempty"`
}

// ScreenFrameRequest carries one low-rate thumbnail from an agent,
// base64 image data as produced by the capture side.
type ScreenFrameRequest struct {
	Image string `json:"image"`
}

// ScreenFrameEvent is the relayed thumbnail tagged with the agent session id.
type ScreenFrameEvent struct {
	Id    string `json:"id"`
	Image string `json:"image"`
}

// H264FrameEvent is a reassembled datagram frame tagged with the agent
// session id. Data is base64 NAL units on the wire.
type H264FrameEvent struct {
	Id   string `json:"id"`
	Seq  uint32 `json:"seq"`
	Data []byte `json:"data"`
}

// TargetedRequest is the minimal shape of any coordinator packet
// addressed to a single agent; the full payload is forwarded verbatim.
type TargetedRequest struct {
	Id string `json:"id"`
}

type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScreenSizeEvent relays an agent's negotiated screen size to coordinators.
type ScreenSizeEvent struct {
	Id     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// FileMeta describes one distributed file.
type FileMeta struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	ChunkSize int    `json:"chunkSize"`
	Chunks    int    `json:"chunks"`
}

type FileStartRequest struct {
	Targets []string `json:"targets"`
	Meta    FileMeta `json:"meta"`
}

// FileStartEvent announces a transfer: to targets as the metadata push,
// back to the initiating coordinator as the transfer id assignment.
type FileStartEvent struct {
	TransferId string   `json:"tid"`
	Meta       FileMeta `json:"meta"`
}

type FileChunkRequest struct {
	TransferId string `json:"tid"`
	Target     string `json:"target,omitempty"`
	Index      int    `json:"index"`
	Data       []byte `json:"data"`
}

// FileProgressEvent flows both ways: agents report acknowledged chunk
// indices, the relay re-broadcasts them to every coordinator with the
// reporting target attached.
type FileProgressEvent struct {
	TransferId string `json:"tid"`
	Target     string `json:"target,omitempty"`
	Acked      []int  `json:"acked"`
}

type FileCompleteEvent struct {
	TransferId string `json:"tid"`
	Target     string `json:"target,omitempty"`
}

type FileErrorEvent struct {
	TransferId string `json:"tid"`
	Target     string `json:"target,omitempty"`
	Reason     string `json:"reason"`
}

type FileResumeRequest struct {
	TransferId string `json:"tid"`
	Target     string `json:"target"`
}

// FileResumeResponse lists the chunk indices a target has not acknowledged;
// the console owns the retransmission policy.
type FileResumeResponse struct {
	TransferId string `json:"tid"`
	Target     string `json:"target"`
	Missing    []int  `json:"missing"`
}

type FileCancelRequest struct {
	TransferId string `json:"tid"`
}
