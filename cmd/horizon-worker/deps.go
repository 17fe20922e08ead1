package main

import (
	"github.com/GabrielHori/horizon-worker/internal/config"
	"github.com/GabrielHori/horizon-worker/internal/convstore"
	"github.com/GabrielHori/horizon-worker/internal/crypto"
	"github.com/GabrielHori/horizon-worker/internal/guard"
	"github.com/GabrielHori/horizon-worker/internal/llm"
	"github.com/GabrielHori/horizon-worker/internal/llm/sidecar"
	"github.com/GabrielHori/horizon-worker/internal/memory"
	"github.com/GabrielHori/horizon-worker/internal/modelsvc"
	"github.com/GabrielHori/horizon-worker/internal/project"
	"github.com/GabrielHori/horizon-worker/internal/ratelimit"
	"github.com/GabrielHori/horizon-worker/internal/remote"
	"github.com/GabrielHori/horizon-worker/internal/settings"
	"github.com/GabrielHori/horizon-worker/internal/stream"
	"github.com/GabrielHori/horizon-worker/internal/sysstats"
	"github.com/GabrielHori/horizon-worker/internal/websearch"
)

// deps collects every collaborator the command table (handlers.go) closes
// over. It is assembled once in run() and never mutated afterward, mirroring
// dispatch.Registry's own "build once at startup" discipline.
type deps struct {
	cfg *config.Config

	guard   *guard.Guard
	limiter *ratelimit.SlidingLimiter
	keys    *crypto.KeyStore

	convos   *convstore.Store
	memories *memory.Store
	projects *project.Store
	settings *settings.Store

	modelsRunner modelsvc.Runner
	sidecarSup   *sidecar.Supervisor
	chat         *llm.Handler
	web          *websearch.Searcher

	collector *sysstats.Collector
	logs      *sysstats.LogRingBuffer
	cancel    *stream.CancelFlag

	tokens    *remote.TokenStore
	allowlist *remote.Allowlist
	tunnel    *remote.Tunnel

	sandboxRoot string
	saltPath    string
}
