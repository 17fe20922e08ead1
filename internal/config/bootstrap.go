package config

import (
	"fmt"
	"log/slog"

	"github.com/GabrielHori/horizon-worker/internal/guard"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/ratelimit"
	"github.com/GabrielHori/horizon-worker/internal/remote"
)

// permissionsByLabel maps a config file's permission name to its
// horizon.Permission constant. Unknown names are rejected in Bootstrap
// rather than silently ignored, since a typo here would otherwise grant
// nothing while the user believes they configured it.
var permissionsByLabel = map[string]horizon.Permission{
	"RepoAnalyze":    horizon.PermRepoAnalyze,
	"MemoryAccess":   horizon.PermMemoryAccess,
	"RemoteAccess":   horizon.PermRemoteAccess,
	"CommandExecute": horizon.PermCommandExecute,
}

// Bootstrap seeds the process's in-memory and file-backed state from the
// config file on startup: permission grants into g, per-command rate-limit
// overrides into limiter, and the tunnel's IP allowlist into allowlist.
// It is the worker analogue of the teacher's database-seeding Bootstrap --
// retargeted from provider/route/key rows in a shared sqlite store to the
// single-user, single-process state this worker actually owns.
func Bootstrap(cfg *Config, g *guard.Guard, limiter *ratelimit.SlidingLimiter, allowlist *remote.Allowlist) error {
	for _, label := range cfg.Permissions {
		perm, ok := permissionsByLabel[label]
		if !ok {
			return fmt.Errorf("config: unknown permission %q", label)
		}
		g.Grant(perm)
		slog.Info("bootstrapped permission grant", "permission", perm)
	}

	for _, o := range cfg.RateLimits {
		if o.RPM <= 0 {
			return fmt.Errorf("config: rate limit override for %q must have rpm > 0", o.Command)
		}
		limiter.SetLimit(o.Command, o.RPM)
		slog.Info("bootstrapped rate limit override", "command", o.Command, "rpm", o.RPM)
	}

	for _, ip := range cfg.Remote.AllowedIPs {
		allowlist.Add(ip)
		slog.Info("bootstrapped remote allowlist entry", "ip", ip)
	}

	return nil
}
