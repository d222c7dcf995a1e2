// Package reconcile decides, for one path, how a peer brings its copy in line with the
// other peer's record under last-write-wins. Both the client and the server use it; the
// caller performs the I/O.
package reconcile

import (
	"github.com/openmined/filesync/internal/syncmeta"
)

type Action uint8

const (
	// Noop leaves the local copy and record untouched.
	Noop Action = iota
	// Fetch pulls the peer's bytes, stamps them with the peer's mtime and adopts its record.
	Fetch
	// DeleteLocal removes the local copy and applies the peer's tombstone.
	DeleteLocal
)

func (a Action) String() string {
	switch a {
	case Fetch:
		return "fetch"
	case DeleteLocal:
		return "delete"
	default:
		return "noop"
	}
}

// Role names which side is deciding. It only changes the direction a fetch travels.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Reason explains a decision for logging.
type Reason string

const (
	ReasonNew           Reason = "not held locally"
	ReasonNewer         Reason = "peer copy is newer"
	ReasonResurrected   Reason = "peer copy is newer than local deletion"
	ReasonPeerDeleted   Reason = "deleted by peer"
	ReasonLocalNewer    Reason = "local copy is newer than peer deletion"
	ReasonAlreadyGone   Reason = "local deletion is as recent"
	ReasonDeletionNewer Reason = "local deletion is newer"
	ReasonUpToDate      Reason = "local copy is as recent"
)

type Decision struct {
	Path   string
	Action Action
	Reason Reason
	Role   Role
}

// Decide compares my record for a path against theirs. mine may be nil when I have never
// seen the path. Equal timestamps never transfer anything, which keeps the two peers
// from trading the same file back and forth.
func Decide(mine, theirs *syncmeta.FileRecord, role Role) Decision {
	d := Decision{Path: theirs.RelativePath, Role: role}

	if theirs.Deleted {
		switch {
		case mine == nil:
			d.Action, d.Reason = DeleteLocal, ReasonPeerDeleted
		case mine.Deleted && !mine.LastModified.Before(theirs.LastModified):
			d.Action, d.Reason = Noop, ReasonAlreadyGone
		case !mine.Deleted && mine.LastModified.After(theirs.LastModified):
			d.Action, d.Reason = Noop, ReasonLocalNewer
		default:
			d.Action, d.Reason = DeleteLocal, ReasonPeerDeleted
		}
		return d
	}

	switch {
	case mine == nil:
		d.Action, d.Reason = Fetch, ReasonNew
	case mine.Deleted && theirs.LastModified.After(mine.LastModified):
		d.Action, d.Reason = Fetch, ReasonResurrected
	case mine.Deleted:
		d.Action, d.Reason = Noop, ReasonDeletionNewer
	case theirs.LastModified.After(mine.LastModified):
		d.Action, d.Reason = Fetch, ReasonNewer
	default:
		d.Action, d.Reason = Noop, ReasonUpToDate
	}
	return d
}
