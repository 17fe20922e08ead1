// Package guard implements the two-table permission guard described in
// spec.md §4.2: a command is allowed iff it is in the always-allowed set,
// or its required permission is currently granted. Unknown commands are
// denied by default.
package guard

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

// alwaysAllowed is the compiled-in set of commands that never require a
// permission grant (telemetry, health, conversation listing, chat,
// permission administration, etc. -- spec.md §4.2).
var alwaysAllowed = map[string]struct{}{
	horizon.CmdHealthCheck:    {},
	horizon.CmdShutdown:       {},
	horizon.CmdCancelChat:     {},
	horizon.CmdGetSystemStats: {},
	horizon.CmdGetMonitoring:  {},

	horizon.CmdLoadSettings:       {},
	horizon.CmdSaveSettings:       {},
	horizon.CmdWebSearchAvailable: {},

	horizon.CmdGetModels:        {},
	horizon.CmdAirllmListModels: {},
	horizon.CmdAirllmStatus:     {},

	horizon.CmdListConversations:       {},
	horizon.CmdGetConversationMessages: {},
	horizon.CmdGetConversationMetadata: {},
	horizon.CmdDeleteConversation:      {},
	horizon.CmdChatHistorySetCryptoPassword: {},

	horizon.CmdChat: {},

	horizon.CmdTunnelCheckCloudflared: {},
	horizon.CmdTunnelGetStatus:        {},
	horizon.CmdTunnelGetQR:            {},
	horizon.CmdTunnelValidateToken:    {},
	horizon.CmdTunnelValidateCustomToken: {},
	horizon.CmdTunnelGetQRWithToken:   {},
	horizon.CmdTunnelInstallProgress:  {},

	horizon.CmdMemoryGet:  {},
	horizon.CmdMemoryList: {},
	horizon.CmdMemoryClearSession:      {},
	horizon.CmdMemorySetCryptoPassword: {},

	horizon.CmdGrantPermission:  {},
	horizon.CmdRevokePermission: {},
	horizon.CmdHasPermission:    {},

	horizon.CmdRateLimiterIsBlocked:  {},
	horizon.CmdRateLimiterGetBlocked: {},
	horizon.CmdRateLimiterGetLimits:  {},
	horizon.CmdRateLimiterGetStats:   {},

	horizon.CmdUpdateConversationProject: {},

	horizon.CmdProjectsList:             {},
	horizon.CmdProjectsGet:              {},
	horizon.CmdProjectsCreate:           {},
	horizon.CmdProjectsUpdate:           {},
	horizon.CmdProjectsDelete:           {},
	horizon.CmdProjectsAddRepo:          {},
	horizon.CmdProjectsRemoveRepo:       {},
	horizon.CmdProjectsGetOrCreateOrphan: {},

	horizon.CmdGetRepoSummary: {},
}

// requiredPermissions maps a command to the permission label it needs.
var requiredPermissions = map[string]horizon.Permission{
	horizon.CmdAnalyzeRepository: horizon.PermRepoAnalyze,
	horizon.CmdDetectTechDebt:    horizon.PermRepoAnalyze,

	horizon.CmdMemorySave:   horizon.PermMemoryAccess,
	horizon.CmdMemoryDelete: horizon.PermMemoryAccess,

	horizon.CmdTunnelInstallCloudflared: horizon.PermRemoteAccess,
	horizon.CmdTunnelGenerateToken:      horizon.PermRemoteAccess,
	horizon.CmdTunnelStart:              horizon.PermRemoteAccess,
	horizon.CmdTunnelStop:               horizon.PermRemoteAccess,
	horizon.CmdTunnelAddAllowedIP:       horizon.PermRemoteAccess,
	horizon.CmdTunnelRemoveAllowedIP:    horizon.PermRemoteAccess,
	horizon.CmdTunnelSetCustomToken:     horizon.PermRemoteAccess,
	horizon.CmdTunnelSetNamedTunnel:     horizon.PermRemoteAccess,

	horizon.CmdSetStartup: horizon.PermCommandExecute,

	horizon.CmdRateLimiterSetLimit: horizon.PermCommandExecute,
	horizon.CmdRateLimiterReset:    horizon.PermCommandExecute,

	horizon.CmdPull:        horizon.PermCommandExecute,
	horizon.CmdDeleteModel: horizon.PermCommandExecute,

	horizon.CmdAirllmEnable:          horizon.PermCommandExecute,
	horizon.CmdAirllmReload:          horizon.PermCommandExecute,
	horizon.CmdAirllmDisable:         horizon.PermCommandExecute,
	horizon.CmdAirllmSetActiveModel:  horizon.PermCommandExecute,
}

// Guard holds the process-wide granted-permission set. Reads are lock-free
// via an atomic snapshot (spec.md §5): Grant/Revoke build a new immutable
// set and swap the pointer; Check loads the current pointer without a lock.
type Guard struct {
	granted atomic.Pointer[map[horizon.Permission]struct{}]
	// disabled puts the guard into a debug bypass mode that allows
	// everything but logs a loud warning on every check (spec.md §4.2).
	disabled atomic.Bool
}

// New returns a Guard with no permissions granted.
func New() *Guard {
	g := &Guard{}
	empty := map[horizon.Permission]struct{}{}
	g.granted.Store(&empty)
	return g
}

// SetDisabled toggles the debug bypass mode.
func (g *Guard) SetDisabled(disabled bool) {
	g.disabled.Store(disabled)
	if disabled {
		slog.Warn("PERMISSION GUARD DISABLED -- all commands will be allowed, this is a debug-only mode")
	}
}

// Grant adds perm to the granted set.
func (g *Guard) Grant(perm horizon.Permission) {
	g.mutate(func(m map[horizon.Permission]struct{}) { m[perm] = struct{}{} })
}

// Revoke removes perm from the granted set.
func (g *Guard) Revoke(perm horizon.Permission) {
	g.mutate(func(m map[horizon.Permission]struct{}) { delete(m, perm) })
}

// HasPermission reports whether perm is currently granted.
func (g *Guard) HasPermission(perm horizon.Permission) bool {
	snap := *g.granted.Load()
	_, ok := snap[perm]
	return ok
}

// GrantedPermissions returns a snapshot slice of currently granted labels.
func (g *Guard) GrantedPermissions() []horizon.Permission {
	snap := *g.granted.Load()
	out := make([]horizon.Permission, 0, len(snap))
	for p := range snap {
		out = append(out, p)
	}
	return out
}

func (g *Guard) mutate(f func(map[horizon.Permission]struct{})) {
	old := *g.granted.Load()
	next := make(map[horizon.Permission]struct{}, len(old)+1)
	for k := range old {
		next[k] = struct{}{}
	}
	f(next)
	g.granted.Store(&next)
}

// Check reports whether cmd may run, given its payload (currently unused by
// the guard itself -- the signature carries payload for parity with
// spec.md §4.2's `check(cmd, payload)`, in case future command-scoped rules
// need it).
func (g *Guard) Check(cmd string, _ json.RawMessage) (allowed bool, requiredPerm horizon.Permission) {
	if g.disabled.Load() {
		slog.Warn("permission guard bypass: command allowed while guard disabled", "cmd", cmd)
		return true, ""
	}
	if _, ok := alwaysAllowed[cmd]; ok {
		return true, ""
	}
	if perm, ok := requiredPermissions[cmd]; ok {
		return g.HasPermission(perm), perm
	}
	// Unknown command: deny by default.
	return false, ""
}
