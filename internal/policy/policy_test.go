package policy

import (
	"testing"

	"github.com/saeid-a/minicoachy/internal/models"
)

var (
	admin  = models.Actor{ID: 1, Role: models.RoleAdmin}
	coach  = models.Actor{ID: 7, Role: models.RoleCoach}
	other  = models.Actor{ID: 8, Role: models.RoleCoach}
	client = models.Actor{ID: 42, Role: models.RoleClient}
)

func TestCanSessionActions(t *testing.T) {
	session := &models.Session{ID: 5, CoachID: coach.ID, ClientID: client.ID}

	cases := []struct {
		name   string
		actor  models.Actor
		action Action
		want   bool
	}{
		{"admin views", admin, ViewSession, true},
		{"coach views own", coach, ViewSession, true},
		{"client views own", client, ViewSession, true},
		{"other coach views", other, ViewSession, false},
		{"admin creates", admin, CreateSession, true},
		{"coach creates", coach, CreateSession, true},
		{"client creates", client, CreateSession, false},
		{"admin updates", admin, UpdateSession, true},
		{"coach updates own", coach, UpdateSession, true},
		{"other coach updates", other, UpdateSession, false},
		{"client updates own", client, UpdateSession, false},
		{"coach deletes own", coach, DeleteSession, true},
		{"client deletes own", client, DeleteSession, false},
		{"other coach deletes", other, DeleteSession, false},
		{"client lists", client, ListSessions, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.actor, tc.action, SessionTarget(session)); got != tc.want {
				t.Fatalf("Can(%v, %s) = %v, want %v", tc.actor, tc.action, got, tc.want)
			}
		})
	}
}

func TestCanDeniesUnknownRole(t *testing.T) {
	nobody := models.Actor{ID: 7}
	session := &models.Session{CoachID: 7, ClientID: 42}

	if Can(nobody, ListSessions, Target{}) {
		t.Fatal("expected list to be denied without a role")
	}
	if Can(nobody, CreateSession, SessionTarget(session)) {
		t.Fatal("expected create to be denied without a role")
	}
	if Can(nobody, Action(99), SessionTarget(session)) {
		t.Fatal("expected unknown action to be denied")
	}
}

func TestCanPerResourceActionsRequireTarget(t *testing.T) {
	if Can(admin, ViewSession, Target{}) {
		t.Fatal("expected view without target to be denied")
	}
	if Can(admin, UpdateSession, Target{}) {
		t.Fatal("expected update without target to be denied")
	}
}

func TestCanListUsers(t *testing.T) {
	if !Can(admin, ListUsers, Target{}) {
		t.Fatal("expected admin to list all users")
	}
	if Can(coach, ListUsers, Target{}) {
		t.Fatal("expected unfiltered listing to be denied for coach")
	}
	if !Can(client, ListUsers, Target{RoleFilter: true}) {
		t.Fatal("expected filtered listing to be allowed for client")
	}
}

func TestCanAdminOnlyAggregates(t *testing.T) {
	for _, actor := range []models.Actor{coach, client} {
		if Can(actor, ViewStats, Target{}) {
			t.Fatalf("expected stats denied for %v", actor.Role)
		}
		if Can(actor, DeleteUser, UserTarget(actor.ID)) {
			t.Fatalf("expected delete user denied for %v", actor.Role)
		}
	}
	if !Can(admin, ViewStats, Target{}) {
		t.Fatal("expected admin to view stats")
	}
}

func TestCanViewAndUpdateSelf(t *testing.T) {
	if !Can(client, UpdateUser, UserTarget(client.ID)) {
		t.Fatal("expected client to update self")
	}
	if Can(client, ViewUser, UserTarget(coach.ID)) {
		t.Fatal("expected client not to view another user")
	}
	if !Can(admin, UpdateUser, UserTarget(client.ID)) {
		t.Fatal("expected admin to update any user")
	}
}

func TestScopeFor(t *testing.T) {
	scope, ok := ScopeFor(admin)
	if !ok || !scope.Unscoped() {
		t.Fatalf("expected unscoped admin filter, got %+v", scope)
	}
	scope, ok = ScopeFor(coach)
	if !ok || scope.CoachID != coach.ID || scope.ClientID != 0 {
		t.Fatalf("unexpected coach scope %+v", scope)
	}
	scope, ok = ScopeFor(client)
	if !ok || scope.ClientID != client.ID || scope.CoachID != 0 {
		t.Fatalf("unexpected client scope %+v", scope)
	}
	if _, ok := ScopeFor(models.Actor{ID: 3}); ok {
		t.Fatal("expected no scope for missing role")
	}
}

func TestCacheKeysArePartitionedByScope(t *testing.T) {
	coachScope, _ := ScopeFor(coach)
	clientScope, _ := ScopeFor(models.Actor{ID: coach.ID, Role: models.RoleClient})
	adminScope, _ := ScopeFor(admin)
	otherAdmin, _ := ScopeFor(models.Actor{ID: 2, Role: models.RoleAdmin})

	if coachScope.CacheKey() == clientScope.CacheKey() {
		t.Fatalf("coach and client scopes share key %q", coachScope.CacheKey())
	}
	if adminScope.CacheKey() != otherAdmin.CacheKey() {
		t.Fatalf("admins should share a scope key, got %q and %q", adminScope.CacheKey(), otherAdmin.CacheKey())
	}
	if got := coachScope.CacheKey(); got != "sessions:7:coach" {
		t.Fatalf("unexpected coach key %q", got)
	}
}

func TestAffectedScopesCoverCoachClientAndAdmin(t *testing.T) {
	scopes := AffectedScopes(&models.Session{CoachID: 7, ClientID: 42})
	want := map[string]bool{
		"sessions:7:coach":   false,
		"sessions:42:client": false,
		"sessions:all:admin": false,
	}
	for _, scope := range scopes {
		want[scope.CacheKey()] = true
	}
	for key, seen := range want {
		if !seen {
			t.Fatalf("expected %s to be invalidated", key)
		}
	}
}
