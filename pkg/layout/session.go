package layout

import (
	"net/netip"
	"time"

	"github.com/buildbarn/go-xdr/pkg/protocols/nfsv4"
	"github.com/google/uuid"
)

// IOMode of a layout, corresponding to layoutiomode4.
type IOMode int

const (
	// IOModeRead requests a layout that is only used for reading.
	IOModeRead IOMode = iota
	// IOModeReadWrite requests a layout that may also be used for
	// writing.
	IOModeReadWrite
)

func (m IOMode) String() string {
	switch m {
	case IOModeRead:
		return "READ"
	case IOModeReadWrite:
		return "RW"
	default:
		return "UNKNOWN"
	}
}

// FileRef refers to the object for which a layout is requested.
type FileRef struct {
	// FileID identifies the file towards the namespace and pools.
	FileID string
	// FileHandle is the NFSv4 file handle that is placed in the
	// layout, so that the client can use it against the pool.
	FileHandle []byte
	// Regular is false for objects that do not reside on a pool,
	// such as control files. Those are served by the door itself.
	Regular bool
}

// LayoutRequest contains the decoded arguments of LAYOUTGET.
type LayoutRequest struct {
	File          FileRef
	IOMode        IOMode
	ClientAddress netip.AddrPort
	StateID       nfsv4.Stateid4
}

// MoverID identifies a mover within a single pool.
type MoverID int32

// SessionState is the position of a session in its life cycle.
// Sessions in the terminal states (finished or cancelled) are no
// longer stored, which is why these states are not enumerated.
type SessionState int

const (
	// SessionStateRequested indicates a pool has been requested,
	// but no mover has reported to be ready.
	SessionStateRequested SessionState = iota
	// SessionStateRedirected indicates a mover has reported to be
	// ready, but the layout has not been handed out yet.
	SessionStateRedirected
	// SessionStateActive indicates a layout referencing the mover
	// has been handed out to the client.
	SessionStateActive
	// SessionStateTimedOut indicates the client was told to try
	// again later. The session is abandoned and will be swept,
	// unless the client retries the request.
	SessionStateTimedOut
)

func (s SessionState) String() string {
	switch s {
	case SessionStateRequested:
		return "REQUESTED"
	case SessionStateRedirected:
		return "REDIRECTED"
	case SessionStateActive:
		return "ACTIVE"
	case SessionStateTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Session describes an I/O session created by LAYOUTGET. Values of
// this type are snapshots returned by SessionTable.
type Session struct {
	StateID       nfsv4.Stateid4
	TransferID    uuid.UUID
	File          FileRef
	IOMode        IOMode
	ClientAddress netip.AddrPort
	CreatedAt     time.Time
	State         SessionState
	Write         bool

	// Fields that are set once the mover has reported to be ready.
	Endpoint *PoolEndpoint
	MoverID  MoverID
}

// PoolName returns the name of the pool that runs the mover of the
// session, or the empty string if no mover has reported to be ready.
func (s *Session) PoolName() string {
	if s.Endpoint == nil {
		return ""
	}
	return s.Endpoint.PoolName()
}

// HasMover returns whether the mover of the session has reported to be
// ready, meaning it is known which mover to kill upon teardown.
func (s *Session) HasMover() bool {
	return s.Endpoint != nil
}
