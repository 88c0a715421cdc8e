package instance

import "time"

const (
	LockFile   = "instance.lock"
	SocketFile = "instance.sock"
	SharedDir  = "shared"

	// Shared-key names, stored as <data>/shared/<key>.json.
	KeyImportRequest = "import_request"
	KeyImportAck     = "import_ack"

	TypeImportRequest = "import_request"
	TypeImportAck     = "import_ack"

	DefaultSocketTimeout = 900 * time.Millisecond
	DefaultSharedTimeout = 1200 * time.Millisecond
)

type Role int

const (
	RoleNone Role = iota
	RoleOwner
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

// Request asks the owner to import a payload. Payload is the raw text the
// guest received: a share link or the bare encoded form.
type Request struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	TabID   string `json:"tabId"`
	Payload string `json:"payload"`
	SentAt  string `json:"sentAt"`
}

// Ack answers a Request with the same ID.
type Ack struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	OK             bool   `json:"ok"`
	Decision       string `json:"decision,omitempty"`
	TournamentUUID string `json:"tournamentUuid,omitempty"`
	Error          string `json:"error,omitempty"`
}
