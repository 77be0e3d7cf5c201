// Package policy decides what an authenticated actor may do with sessions and users.
// Every rule switches over the full Role set so that adding a role forces each
// decision to be revisited.
package policy

import (
	"fmt"

	"github.com/saeid-a/minicoachy/internal/models"
)

type Action int

const (
	ListSessions Action = iota + 1
	ViewSession
	CreateSession
	UpdateSession
	DeleteSession
	ListUsers
	ViewUser
	UpdateUser
	DeleteUser
	ViewStats
)

func (a Action) String() string {
	switch a {
	case ListSessions:
		return "list_sessions"
	case ViewSession:
		return "view_session"
	case CreateSession:
		return "create_session"
	case UpdateSession:
		return "update_session"
	case DeleteSession:
		return "delete_session"
	case ListUsers:
		return "list_users"
	case ViewUser:
		return "view_user"
	case UpdateUser:
		return "update_user"
	case DeleteUser:
		return "delete_user"
	case ViewStats:
		return "view_stats"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Target carries the resource a per-resource action applies to. Only the fields
// relevant to the action are consulted.
type Target struct {
	Session    *models.Session
	UserID     int64
	RoleFilter bool
}

func SessionTarget(s *models.Session) Target {
	return Target{Session: s}
}

func UserTarget(userID int64) Target {
	return Target{UserID: userID}
}

// Can reports whether actor may perform action on target.
func Can(actor models.Actor, action Action, target Target) bool {
	switch action {
	case ListSessions:
		return actor.Role.Valid()
	case ViewSession:
		if target.Session == nil {
			return false
		}
		return isAdmin(actor) ||
			target.Session.CoachID == actor.ID ||
			target.Session.ClientID == actor.ID
	case CreateSession:
		switch actor.Role {
		case models.RoleAdmin, models.RoleCoach:
			return true
		case models.RoleClient:
			return false
		default:
			return false
		}
	case UpdateSession, DeleteSession:
		if target.Session == nil {
			return false
		}
		return isAdmin(actor) || target.Session.CoachID == actor.ID
	case ListUsers:
		return isAdmin(actor) || (actor.Role.Valid() && target.RoleFilter)
	case ViewUser, UpdateUser:
		return isAdmin(actor) || (actor.Role.Valid() && target.UserID == actor.ID)
	case DeleteUser, ViewStats:
		return isAdmin(actor)
	default:
		return false
	}
}

func isAdmin(actor models.Actor) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCoach, models.RoleClient:
		return false
	default:
		return false
	}
}

// Filter narrows session queries to what an actor may see. A zero CoachID and
// ClientID means unscoped.
type Filter struct {
	CoachID  int64
	ClientID int64
}

func (f Filter) Unscoped() bool {
	return f.CoachID == 0 && f.ClientID == 0
}

// CacheKey partitions cached list results by visibility. Admins share one key
// because they share one scope.
func (f Filter) CacheKey() string {
	switch {
	case f.CoachID != 0:
		return fmt.Sprintf("sessions:%d:coach", f.CoachID)
	case f.ClientID != 0:
		return fmt.Sprintf("sessions:%d:client", f.ClientID)
	default:
		return "sessions:all:admin"
	}
}

// ScopeFor returns the listing scope for actor. ok is false for an actor
// without a valid role, who must see nothing.
func ScopeFor(actor models.Actor) (Filter, bool) {
	switch actor.Role {
	case models.RoleAdmin:
		return Filter{}, true
	case models.RoleCoach:
		return Filter{CoachID: actor.ID}, true
	case models.RoleClient:
		return Filter{ClientID: actor.ID}, true
	default:
		return Filter{}, false
	}
}

// AffectedScopes lists every scope whose cached listing may include s.
func AffectedScopes(s *models.Session) []Filter {
	return []Filter{
		{CoachID: s.CoachID},
		{ClientID: s.ClientID},
		{},
	}
}
