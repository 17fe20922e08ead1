package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/GabrielHori/horizon-worker/internal/dispatch"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/llm/sidecar"
	"github.com/GabrielHori/horizon-worker/internal/memory"
	"github.com/GabrielHori/horizon-worker/internal/modelsvc"
	"github.com/GabrielHori/horizon-worker/internal/project"
	"github.com/GabrielHori/horizon-worker/internal/remote"
	"github.com/GabrielHori/horizon-worker/internal/repoanalyze"
	"github.com/GabrielHori/horizon-worker/internal/settings"
	"github.com/GabrielHori/horizon-worker/internal/stream"
	"github.com/GabrielHori/horizon-worker/internal/validate"
)

// decode unmarshals req's payload into T, wrapping the zero-value case (no
// payload) as an empty struct rather than an error -- most commands in this
// table treat a missing field as "use the default", not a parse failure.
func decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: %v", horizon.ErrValidation, err)
	}
	return v, nil
}

// buildHandlers assembles the closed command table every entry of
// horizon.AllCommands resolves through, grounded on
// original_source/worker/main.py's command_handlers dict: one function per
// command, each doing its own payload decoding and delegating to the
// collaborator in d that owns the concern.
func buildHandlers(d *deps) map[string]dispatch.Handler {
	return map[string]dispatch.Handler{
		horizon.CmdHealthCheck: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: map[string]any{"status": "ok"}}, nil
		},
		horizon.CmdShutdown: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: map[string]any{"status": "shutting_down"}}, nil
		},
		horizon.CmdCancelChat: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				ChatID string `json:"chat_id"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: map[string]any{"cancelled": d.cancel.Cancel(in.ChatID)}}, nil
		},
		horizon.CmdGetSystemStats: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: d.collector.Collect()}, nil
		},
		horizon.CmdGetMonitoring: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: map[string]any{
				"stats":        d.collector.Collect(),
				"logs":         d.logs.Lines(),
				"rate_limiter": d.limiter.GetStats(),
			}}, nil
		},

		horizon.CmdSetStartup: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				Enable bool `json:"enable"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			if err := settings.ManageStartup(in.Enable); err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: map[string]any{"enabled": in.Enable}}, nil
		},
		horizon.CmdLoadSettings: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			s, err := d.settings.Load()
			if err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: s}, nil
		},
		horizon.CmdSaveSettings: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			next, err := decode[settings.Settings](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			if err := d.settings.Save(next); err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: next}, nil
		},
		horizon.CmdWebSearchAvailable: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: map[string]any{"available": d.web.IsAvailable()}}, nil
		},

		horizon.CmdPull:        handlePull(d),
		horizon.CmdGetModels:   handleGetModels(d),
		horizon.CmdDeleteModel: handleDeleteModel(d),

		horizon.CmdAirllmListModels: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: map[string]any{"models": sidecar.CuratedModels()}}, nil
		},
		horizon.CmdAirllmStatus:       handleAirllmStatus(d),
		horizon.CmdAirllmEnable:       handleAirllmEnable(d),
		horizon.CmdAirllmReload:       handleAirllmEnable(d),
		horizon.CmdAirllmDisable: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			d.sidecarSup.Disable()
			return dispatch.Result{Value: map[string]any{"status": "OFF"}}, nil
		},
		horizon.CmdAirllmSetActiveModel: handleAirllmEnable(d),

		horizon.CmdListConversations:       handleListConversations(d),
		horizon.CmdGetConversationMessages: handleGetConversationMessages(d),
		horizon.CmdGetConversationMetadata: handleGetConversationMetadata(d),
		horizon.CmdDeleteConversation:      handleDeleteConversation(d),
		horizon.CmdChatHistorySetCryptoPassword: handleSetCryptoPassword(d),

		horizon.CmdChat: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			events, err := d.chat.Handle(ctx, req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Stream: events}, nil
		},

		horizon.CmdTunnelCheckCloudflared:   handleTunnelCheckCloudflared(d),
		horizon.CmdTunnelInstallCloudflared: handleTunnelInstallCloudflared(d),
		horizon.CmdTunnelInstallProgress:    handleTunnelInstallProgress(d),
		horizon.CmdTunnelGetStatus: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: d.tunnel.Status()}, nil
		},
		horizon.CmdTunnelGenerateToken: handleTunnelGenerateToken(d),
		horizon.CmdTunnelStart:         handleTunnelStart(d),
		horizon.CmdTunnelStop: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			if err := d.tunnel.Stop(); err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: d.tunnel.Status()}, nil
		},
		horizon.CmdTunnelGetQR: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			qr, ok := d.tunnel.QRData()
			return dispatch.Result{Value: map[string]any{"qr": qr, "available": ok}}, nil
		},
		horizon.CmdTunnelGetQRWithToken: handleTunnelGetQRWithToken(d),
		horizon.CmdTunnelAddAllowedIP:   handleTunnelAddAllowedIP(d),
		horizon.CmdTunnelRemoveAllowedIP: handleTunnelRemoveAllowedIP(d),
		horizon.CmdTunnelValidateToken: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				Token string `json:"token"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: map[string]any{"valid": d.tokens.Validate(in.Token)}}, nil
		},
		horizon.CmdTunnelValidateCustomToken: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				Token string `json:"token"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: map[string]any{"valid": remote.ValidCustomToken(in.Token)}}, nil
		},
		horizon.CmdTunnelSetCustomToken: handleTunnelSetCustomToken(d),
		horizon.CmdTunnelSetNamedTunnel: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				Name string `json:"name"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			d.tunnel.SetNamedTunnelName(in.Name)
			return dispatch.Result{Value: map[string]any{"name": in.Name}}, nil
		},

		horizon.CmdMemorySave:              handleMemorySave(d),
		horizon.CmdMemoryGet:               handleMemoryGet(d),
		horizon.CmdMemoryList:              handleMemoryList(d),
		horizon.CmdMemoryDelete:            handleMemoryDelete(d),
		horizon.CmdMemoryClearSession: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: map[string]any{"cleared": d.memories.ClearSession()}}, nil
		},
		horizon.CmdMemorySetCryptoPassword: handleSetCryptoPassword(d),

		horizon.CmdAnalyzeRepository: handleAnalyzeRepository(d),
		horizon.CmdGetRepoSummary:    handleGetRepoSummary(d),
		horizon.CmdDetectTechDebt:    handleDetectTechDebt(d),

		horizon.CmdGrantPermission: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				Permission horizon.Permission `json:"permission"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			d.guard.Grant(in.Permission)
			return dispatch.Result{Value: map[string]any{"granted": d.guard.GrantedPermissions()}}, nil
		},
		horizon.CmdRevokePermission: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				Permission horizon.Permission `json:"permission"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			d.guard.Revoke(in.Permission)
			return dispatch.Result{Value: map[string]any{"granted": d.guard.GrantedPermissions()}}, nil
		},
		horizon.CmdHasPermission: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				Permission horizon.Permission `json:"permission"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: map[string]any{"has": d.guard.HasPermission(in.Permission)}}, nil
		},

		horizon.CmdRateLimiterIsBlocked: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				Cmd      string `json:"cmd"`
				ClientID string `json:"client_id"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: map[string]any{"blocked": d.limiter.IsBlocked(in.Cmd, in.ClientID)}}, nil
		},
		horizon.CmdRateLimiterGetBlocked: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: d.limiter.GetBlocked()}, nil
		},
		horizon.CmdRateLimiterSetLimit: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				Cmd   string `json:"cmd"`
				Limit int    `json:"limit"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			d.limiter.SetLimit(in.Cmd, in.Limit)
			return dispatch.Result{Value: map[string]any{"cmd": in.Cmd, "limit": in.Limit}}, nil
		},
		horizon.CmdRateLimiterGetLimits: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: d.limiter.GetLimits()}, nil
		},
		horizon.CmdRateLimiterReset: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				Cmd      string `json:"cmd"`
				ClientID string `json:"client_id"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			d.limiter.Reset(in.Cmd, in.ClientID)
			return dispatch.Result{Value: map[string]any{"reset": true}}, nil
		},
		horizon.CmdRateLimiterGetStats: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			return dispatch.Result{Value: d.limiter.GetStats()}, nil
		},

		horizon.CmdUpdateConversationProject: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			in, err := decode[struct {
				ChatID    string `json:"chat_id"`
				ProjectID string `json:"project_id"`
			}](req.Payload)
			if err != nil {
				return dispatch.Result{}, err
			}
			if err := d.convos.UpdateProject(in.ChatID, in.ProjectID); err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: map[string]any{"chat_id": in.ChatID, "project_id": in.ProjectID}}, nil
		},

		horizon.CmdProjectsList:             handleProjectsList(d),
		horizon.CmdProjectsGet:              handleProjectsGet(d),
		horizon.CmdProjectsCreate:           handleProjectsCreate(d),
		horizon.CmdProjectsUpdate:           handleProjectsUpdate(d),
		horizon.CmdProjectsDelete:           handleProjectsDelete(d),
		horizon.CmdProjectsAddRepo:          handleProjectsAddRepo(d),
		horizon.CmdProjectsRemoveRepo:       handleProjectsRemoveRepo(d),
		horizon.CmdProjectsGetOrCreateOrphan: func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
			p, err := d.projects.GetOrCreateOrphan()
			if err != nil {
				return dispatch.Result{}, err
			}
			return dispatch.Result{Value: p}, nil
		},
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// --- models ---

func handlePull(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Model string `json:"model"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		if err := validate.ModelName(in.Model); err != nil {
			return dispatch.Result{}, fmt.Errorf("%w: %v", horizon.ErrValidation, err)
		}
		progress, err := modelsvc.Pull(ctx, d.modelsRunner, in.Model)
		if err != nil {
			return dispatch.Result{}, &dispatch.Error{Code: horizon.CodeOllamaCLIError, Message: err.Error()}
		}
		events := make(chan stream.Event, 8)
		go func() {
			defer close(events)
			for p := range progress {
				switch {
				case p.Err != nil:
					events <- stream.Err(p.Err.Error())
					return
				case p.Done:
					events <- stream.Done()
					return
				default:
					events <- stream.Progress("pull", p.Message, float64(p.Percent))
				}
			}
		}()
		return dispatch.Result{Stream: events}, nil
	}
}

func handleGetModels(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		models, err := modelsvc.List(ctx, d.modelsRunner)
		if err != nil {
			return dispatch.Result{}, &dispatch.Error{Code: horizon.CodeModelListError, Message: err.Error()}
		}
		return dispatch.Result{Value: models}, nil
	}
}

func handleDeleteModel(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Model string `json:"model"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		if err := validate.ModelName(in.Model); err != nil {
			return dispatch.Result{}, fmt.Errorf("%w: %v", horizon.ErrValidation, err)
		}
		if err := modelsvc.Delete(ctx, d.modelsRunner, in.Model); err != nil {
			return dispatch.Result{}, &dispatch.Error{Code: horizon.CodeOllamaCLIError, Message: err.Error()}
		}
		return dispatch.Result{Value: map[string]any{"deleted": in.Model}}, nil
	}
}

// --- airllm ---

func handleAirllmStatus(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		status, model, lastErr := d.sidecarSup.Status()
		return dispatch.Result{Value: map[string]any{
			"status": status.String(),
			"model":  model,
			"error":  lastErr,
		}}, nil
	}
}

func handleAirllmEnable(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Model string `json:"model"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		if err := d.sidecarSup.Enable(ctx, in.Model); err != nil {
			return dispatch.Result{}, err
		}
		status, model, _ := d.sidecarSup.Status()
		return dispatch.Result{Value: map[string]any{"status": status.String(), "model": model}}, nil
	}
}

// --- conversations ---

func handleListConversations(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		return dispatch.Result{Value: d.convos.List()}, nil
	}
}

func handleGetConversationMessages(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			ChatID string `json:"chat_id"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: d.convos.GetMessages(in.ChatID)}, nil
	}
}

func handleGetConversationMetadata(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			ChatID string `json:"chat_id"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		for _, s := range d.convos.List() {
			if s.ID == in.ChatID {
				return dispatch.Result{Value: s}, nil
			}
		}
		return dispatch.Result{}, horizon.ErrNotFound
	}
}

func handleDeleteConversation(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			ChatID string `json:"chat_id"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		if err := d.convos.Delete(in.ChatID); err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: map[string]any{"deleted": in.ChatID}}, nil
	}
}

// handleSetCryptoPassword backs both chat_history_set_crypto_password and
// memory_set_crypto_password: the master key is process-wide (spec.md §3),
// so either command derives and installs the same key from the persisted
// salt.
func handleSetCryptoPassword(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Password string `json:"password"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		salt, err := loadOrCreateSalt(d.saltPath)
		if err != nil {
			return dispatch.Result{}, err
		}
		if err := d.keys.SetPassword(in.Password, salt); err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: map[string]any{"has_key": d.keys.HasKey()}}, nil
	}
}

// --- tunnel ---

func handleTunnelCheckCloudflared(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		installed := fileExists(d.tunnel.BinaryPath())
		return dispatch.Result{Value: map[string]any{"installed": installed, "path": d.tunnel.BinaryPath()}}, nil
	}
}

func handleTunnelInstallCloudflared(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		if err := d.tunnel.EnsureBinary(ctx, d.cfg.Remote.CloudflaredDownloadURL); err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: map[string]any{"installed": true, "path": d.tunnel.BinaryPath()}}, nil
	}
}

// handleTunnelInstallProgress reports binary presence as a coarse 0/100
// install progress -- EnsureBinary runs synchronously to completion rather
// than in the background, so there is no finer-grained state to report.
func handleTunnelInstallProgress(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		percent := 0
		if fileExists(d.tunnel.BinaryPath()) {
			percent = 100
		}
		return dispatch.Result{Value: map[string]any{"percent": percent}}, nil
	}
}

func handleTunnelGenerateToken(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			ExpiresHours int `json:"expires_hours"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		token, rec, err := d.tokens.Generate(in.ExpiresHours)
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: map[string]any{"token": token, "expires_at": rec.ExpiresAt}}, nil
	}
}

func handleTunnelSetCustomToken(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Token        string `json:"token"`
			ExpiresHours int    `json:"expires_hours"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		rec, err := d.tokens.SetCustom(in.Token, in.ExpiresHours)
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: map[string]any{"expires_at": rec.ExpiresAt}}, nil
	}
}

func handleTunnelStart(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			LocalPort int `json:"local_port"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		port := in.LocalPort
		if port == 0 {
			port = d.cfg.Remote.Port
		}
		if err := d.tunnel.Start(ctx, port); err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: d.tunnel.Status()}, nil
	}
}

func handleTunnelGetQRWithToken(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Token string `json:"token"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		qr, ok := d.tunnel.QRDataWithToken(in.Token)
		return dispatch.Result{Value: map[string]any{"qr": qr, "available": ok}}, nil
	}
}

func handleTunnelAddAllowedIP(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			IP string `json:"ip"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		if err := validate.IPAddress(in.IP); err != nil {
			return dispatch.Result{}, fmt.Errorf("%w: %v", horizon.ErrValidation, err)
		}
		d.allowlist.Add(in.IP)
		return dispatch.Result{Value: map[string]any{"allowed_ips": d.allowlist.List()}}, nil
	}
}

func handleTunnelRemoveAllowedIP(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			IP string `json:"ip"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		d.allowlist.Remove(in.IP)
		return dispatch.Result{Value: map[string]any{"allowed_ips": d.allowlist.List()}}, nil
	}
}

// --- memory ---

func handleMemorySave(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Scope     memory.Scope   `json:"memory_type"`
			Key       string         `json:"key"`
			Value     any            `json:"value"`
			ProjectID string         `json:"project_id"`
			Metadata  map[string]any `json:"metadata"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		if err := d.memories.Save(in.Scope, in.Key, in.Value, in.ProjectID, in.Metadata); err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: map[string]any{"saved": in.Key}}, nil
	}
}

func handleMemoryGet(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Scope     memory.Scope `json:"memory_type"`
			Key       string       `json:"key"`
			ProjectID string       `json:"project_id"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		value, ok := d.memories.Get(in.Scope, in.Key, in.ProjectID)
		if !ok {
			return dispatch.Result{}, horizon.ErrNotFound
		}
		return dispatch.Result{Value: map[string]any{"key": in.Key, "value": value}}, nil
	}
}

func handleMemoryList(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Scope     memory.Scope `json:"memory_type"`
			ProjectID string       `json:"project_id"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: d.memories.List(in.Scope, in.ProjectID)}, nil
	}
}

func handleMemoryDelete(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Scope     memory.Scope `json:"memory_type"`
			Key       string       `json:"key"`
			ProjectID string       `json:"project_id"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		ok, err := d.memories.Delete(in.Scope, in.Key, in.ProjectID)
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: map[string]any{"deleted": ok}}, nil
	}
}

// --- repository analysis ---

func handleAnalyzeRepository(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			RepoPath string `json:"repo_path"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		if err := validate.RepoPath(in.RepoPath); err != nil {
			return dispatch.Result{}, fmt.Errorf("%w: %v", horizon.ErrValidation, err)
		}
		analysis, err := repoanalyze.Analyze(in.RepoPath, d.sandboxRoot, repoanalyze.DefaultOptions())
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: analysis}, nil
	}
}

func handleGetRepoSummary(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			RepoPath string `json:"repo_path"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		if err := validate.RepoPath(in.RepoPath); err != nil {
			return dispatch.Result{}, fmt.Errorf("%w: %v", horizon.ErrValidation, err)
		}
		analysis, err := repoanalyze.Analyze(in.RepoPath, d.sandboxRoot, repoanalyze.DefaultOptions())
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: map[string]any{"summary": analysis.Summary, "stack": analysis.Stack}}, nil
	}
}

func handleDetectTechDebt(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			RepoPath string `json:"repo_path"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		if err := validate.RepoPath(in.RepoPath); err != nil {
			return dispatch.Result{}, fmt.Errorf("%w: %v", horizon.ErrValidation, err)
		}
		analysis, err := repoanalyze.Analyze(in.RepoPath, d.sandboxRoot, repoanalyze.DefaultOptions())
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: map[string]any{"tech_debt": analysis.TechDebt}}, nil
	}
}

// --- projects ---

func handleProjectsList(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		projects, err := d.projects.List()
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: projects}, nil
	}
}

func handleProjectsGet(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			ID string `json:"id"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		p, ok, err := d.projects.Get(in.ID)
		if err != nil {
			return dispatch.Result{}, err
		}
		if !ok {
			return dispatch.Result{}, horizon.ErrNotFound
		}
		return dispatch.Result{Value: p}, nil
	}
}

func handleProjectsCreate(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			Name        string             `json:"name"`
			Description string             `json:"description"`
			ScopePath   string             `json:"scope_path"`
			Permissions project.Permissions `json:"permissions"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		p, err := d.projects.Create(in.Name, in.Description, in.ScopePath, in.Permissions)
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: p}, nil
	}
}

func handleProjectsUpdate(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			ID          string           `json:"id"`
			Name        *string          `json:"name"`
			Description *string          `json:"description"`
			ScopePath   *string          `json:"scope_path"`
			Settings    *project.Settings `json:"settings"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		p, ok, err := d.projects.Update(in.ID, func(p *project.Project) {
			if in.Name != nil {
				p.Name = *in.Name
			}
			if in.Description != nil {
				p.Description = *in.Description
			}
			if in.ScopePath != nil {
				p.ScopePath = *in.ScopePath
			}
			if in.Settings != nil {
				p.Settings = *in.Settings
			}
		})
		if err != nil {
			return dispatch.Result{}, err
		}
		if !ok {
			return dispatch.Result{}, horizon.ErrNotFound
		}
		return dispatch.Result{Value: p}, nil
	}
}

func handleProjectsDelete(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			ID string `json:"id"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		ok, err := d.projects.Delete(in.ID, func(deletedProjectID string) error {
			orphan, err := d.projects.GetOrCreateOrphan()
			if err != nil {
				return err
			}
			for _, c := range d.convos.ListByProject(deletedProjectID) {
				if err := d.convos.UpdateProject(c.ID, orphan.ID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Result{Value: map[string]any{"deleted": ok}}, nil
	}
}

func handleProjectsAddRepo(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			ID       string `json:"id"`
			RepoPath string `json:"repo_path"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		p, ok, err := d.projects.AddRepo(in.ID, in.RepoPath)
		if err != nil {
			return dispatch.Result{}, err
		}
		if !ok {
			return dispatch.Result{}, horizon.ErrNotFound
		}
		return dispatch.Result{Value: p}, nil
	}
}

func handleProjectsRemoveRepo(d *deps) dispatch.Handler {
	return func(ctx context.Context, req horizon.Request) (dispatch.Result, error) {
		in, err := decode[struct {
			ID       string `json:"id"`
			RepoPath string `json:"repo_path"`
		}](req.Payload)
		if err != nil {
			return dispatch.Result{}, err
		}
		p, ok, err := d.projects.RemoveRepo(in.ID, in.RepoPath)
		if err != nil {
			return dispatch.Result{}, err
		}
		if !ok {
			return dispatch.Result{}, horizon.ErrNotFound
		}
		return dispatch.Result{Value: p}, nil
	}
}
