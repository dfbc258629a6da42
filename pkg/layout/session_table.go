package layout

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/buildbarn/go-xdr/pkg/protocols/nfsv4"
	"github.com/google/uuid"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type sessionEntry struct {
	session Session

	// Closed when a redirect is set and when the entry is removed,
	// respectively.
	redirected chan struct{}
	removed    chan struct{}

	// Number of calls to AwaitRedirect() that are blocked on this
	// entry. Entries with waiters are never swept.
	waiters     int
	abandonedAt time.Time
}

// SessionTable keeps track of I/O sessions created by LAYOUTGET, keyed
// by state ID. It acts as the bridge between callers of LAYOUTGET that
// wait for a mover to be started and the asynchronous events sent by
// pools once that has happened.
//
// Resolving or removing a session that is not present is not an
// error. Events from pools may be duplicated or arrive after the
// client has returned the layout.
type SessionTable struct {
	clock clock.Clock

	lock     sync.Mutex
	sessions map[nfsv4.Stateid4]*sessionEntry
}

// NewSessionTable creates a SessionTable that contains no sessions.
func NewSessionTable(clock clock.Clock) *SessionTable {
	return &SessionTable{
		clock:    clock,
		sessions: map[nfsv4.Stateid4]*sessionEntry{},
	}
}

func (st *SessionTable) newEntry(request *LayoutRequest, transferID uuid.UUID) *sessionEntry {
	return &sessionEntry{
		session: Session{
			StateID:       request.StateID,
			TransferID:    transferID,
			File:          request.File,
			IOMode:        request.IOMode,
			ClientAddress: request.ClientAddress,
			CreatedAt:     st.clock.Now(),
			State:         SessionStateRequested,
		},
		redirected: make(chan struct{}),
		removed:    make(chan struct{}),
	}
}

// Create a new session for a layout request. It is not permitted to
// create multiple sessions for the same state ID.
func (st *SessionTable) Create(request *LayoutRequest, transferID uuid.UUID) error {
	st.lock.Lock()
	defer st.lock.Unlock()

	if _, ok := st.sessions[request.StateID]; ok {
		return status.Errorf(codes.AlreadyExists, "A session for state ID %s already exists", FormatStateID(request.StateID))
	}
	st.sessions[request.StateID] = st.newEntry(request, transferID)
	return nil
}

// Claim is called when a client issues LAYOUTGET. If no session exists
// for the state ID, one is created and (nil, nil) is returned, meaning
// the caller needs to request a mover.
//
// Clients retry LAYOUTGET with the same state ID after being told to
// try again later. If a mover reported to be ready after the previous
// attempt gave up, the session is adopted and its endpoint is
// returned, so that the mover doesn't go to waste. A repeated request
// for a session that is already active returns the same endpoint.
func (st *SessionTable) Claim(request *LayoutRequest, transferID uuid.UUID) (*PoolEndpoint, error) {
	st.lock.Lock()
	defer st.lock.Unlock()

	e, ok := st.sessions[request.StateID]
	if !ok {
		st.sessions[request.StateID] = st.newEntry(request, transferID)
		return nil, nil
	}

	s := &e.session
	if s.File.FileID != request.File.FileID || !bytes.Equal(s.File.FileHandle, request.File.FileHandle) {
		return nil, status.Errorf(codes.FailedPrecondition, "State ID %s is already in use for file %#v", FormatStateID(request.StateID), s.File.FileID)
	}
	switch s.State {
	case SessionStateActive:
		return s.Endpoint, nil
	case SessionStateTimedOut:
		if e.waiters > 0 {
			break
		}
		if s.Endpoint != nil {
			s.State = SessionStateActive
			e.abandonedAt = time.Time{}
			return s.Endpoint, nil
		}
		// The previous attempt never got a mover. Start over.
		close(e.removed)
		st.sessions[request.StateID] = st.newEntry(request, transferID)
		return nil, nil
	}
	return nil, status.Errorf(codes.Unavailable, "A layout request for state ID %s is already in progress", FormatStateID(request.StateID))
}

// SetWrite records whether the session was set up for writing.
func (st *SessionTable) SetWrite(stateID nfsv4.Stateid4, write bool) {
	st.lock.Lock()
	defer st.lock.Unlock()

	if e, ok := st.sessions[stateID]; ok {
		e.session.Write = write
	}
}

// Resolve a session by setting the endpoint of the pool and the ID of
// the mover that serves it, and wake up callers of AwaitRedirect().
// The redirect of a session can only be set once. This function
// returns false if the session does not exist or was already
// resolved.
func (st *SessionTable) Resolve(stateID nfsv4.Stateid4, endpoint *PoolEndpoint, moverID MoverID) bool {
	st.lock.Lock()
	defer st.lock.Unlock()

	e, ok := st.sessions[stateID]
	if !ok || e.session.Endpoint != nil {
		return false
	}
	e.session.Endpoint = endpoint
	e.session.MoverID = moverID
	if e.session.State == SessionStateRequested {
		e.session.State = SessionStateRedirected
	}
	close(e.redirected)
	return true
}

// AwaitRedirect blocks until a session has been resolved, and returns
// the endpoint of the pool running the mover. This function fails with
// DEADLINE_EXCEEDED if no redirect occurs within the provided timeout,
// and with ABORTED if the session is removed in the meantime. Timing
// out does not remove the session.
func (st *SessionTable) AwaitRedirect(ctx context.Context, stateID nfsv4.Stateid4, timeout time.Duration) (*PoolEndpoint, error) {
	st.lock.Lock()
	e, ok := st.sessions[stateID]
	if !ok {
		st.lock.Unlock()
		return nil, status.Errorf(codes.NotFound, "No session exists for state ID %s", FormatStateID(stateID))
	}
	if endpoint := e.session.Endpoint; endpoint != nil {
		st.lock.Unlock()
		return endpoint, nil
	}
	if timeout <= 0 {
		st.lock.Unlock()
		return nil, status.Error(codes.DeadlineExceeded, "Mover did not start in time")
	}
	e.waiters++
	redirected, removed := e.redirected, e.removed
	st.lock.Unlock()

	defer func() {
		st.lock.Lock()
		e.waiters--
		st.lock.Unlock()
	}()

	timer, timerChannel := st.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-redirected:
		st.lock.Lock()
		endpoint := e.session.Endpoint
		st.lock.Unlock()
		return endpoint, nil
	case <-removed:
		return nil, status.Errorf(codes.Aborted, "Session for state ID %s was released while waiting for the mover to start", FormatStateID(stateID))
	case <-timerChannel:
		return nil, status.Errorf(codes.DeadlineExceeded, "Mover did not start within %s", timeout)
	case <-ctx.Done():
		return nil, util.StatusFromContext(ctx)
	}
}

// MarkActive records that a layout referencing the session's mover has
// been handed out to the client.
func (st *SessionTable) MarkActive(stateID nfsv4.Stateid4) bool {
	st.lock.Lock()
	defer st.lock.Unlock()

	e, ok := st.sessions[stateID]
	if !ok || e.session.Endpoint == nil {
		return false
	}
	e.session.State = SessionStateActive
	e.abandonedAt = time.Time{}
	return true
}

// MarkTimedOut records that the client has been told to try again
// later, causing the session to be considered abandoned. The session
// is retained, so that a mover that reports to be ready afterwards can
// still be correlated with it.
func (st *SessionTable) MarkTimedOut(stateID nfsv4.Stateid4) bool {
	st.lock.Lock()
	defer st.lock.Unlock()

	e, ok := st.sessions[stateID]
	if !ok || e.session.State == SessionStateActive {
		return false
	}
	e.session.State = SessionStateTimedOut
	e.abandonedAt = st.clock.Now()
	return true
}

// Remove a session, returning its last state. Callers of
// AwaitRedirect() that are blocked on the session are woken up.
func (st *SessionTable) Remove(stateID nfsv4.Stateid4) (Session, bool) {
	st.lock.Lock()
	defer st.lock.Unlock()

	e, ok := st.sessions[stateID]
	if !ok {
		return Session{}, false
	}
	delete(st.sessions, stateID)
	close(e.removed)
	return e.session, true
}

// Lookup returns the state of a single session.
func (st *SessionTable) Lookup(stateID nfsv4.Stateid4) (Session, bool) {
	st.lock.Lock()
	defer st.lock.Unlock()

	e, ok := st.sessions[stateID]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// Sweep removes sessions that have been abandoned for at least the
// provided grace period, and that no caller is waiting on. The removed
// sessions are returned, so that their movers can be torn down.
func (st *SessionTable) Sweep(gracePeriod time.Duration) []Session {
	cutoff := st.clock.Now().Add(-gracePeriod)

	st.lock.Lock()
	defer st.lock.Unlock()

	var swept []Session
	for stateID, e := range st.sessions {
		if e.session.State == SessionStateTimedOut && e.waiters == 0 && !e.abandonedAt.After(cutoff) {
			delete(st.sessions, stateID)
			close(e.removed)
			swept = append(swept, e.session)
		}
	}
	sortSessions(swept)
	return swept
}

// Snapshot returns the state of all sessions, ordered by creation
// time.
func (st *SessionTable) Snapshot() []Session {
	st.lock.Lock()
	sessions := make([]Session, 0, len(st.sessions))
	for _, e := range st.sessions {
		sessions = append(sessions, e.session)
	}
	st.lock.Unlock()

	sortSessions(sessions)
	return sessions
}

// Len returns the number of sessions.
func (st *SessionTable) Len() int {
	st.lock.Lock()
	defer st.lock.Unlock()
	return len(st.sessions)
}

func sortSessions(sessions []Session) {
	slices.SortFunc(sessions, func(a, b Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.StateID.Seqid, b.StateID.Seqid); c != 0 {
			return c
		}
		return bytes.Compare(a.StateID.Other[:], b.StateID.Other[:])
	})
}
