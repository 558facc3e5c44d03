package models

const (
	// DirectionReceive marks a file accepted by the local receiver.
	DirectionReceive = "receive"
	// DirectionSend marks a file pushed to a remote peer.
	DirectionSend = "send"
)

// FileRecord represents metadata for one completed transfer.
type FileRecord struct {
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	Filesize   int64  `json:"filesize"`
	Filetype   string `json:"filetype"`
	StoredPath string `json:"stored_path"`
	Direction  string `json:"direction"`
	PeerName   string `json:"peer_name"`
	Timestamp  int64  `json:"timestamp"`
}
