package horizon

// Command names are the closed vocabulary accepted by the dispatcher
// (spec.md §6, exhaustive enumeration). Keeping them as constants here,
// rather than scattered string literals, is the single source that both
// the permission guard's tables and the dispatcher's registry are built
// from, so the two cannot silently drift apart.
const (
	CmdHealthCheck   = "health_check"
	CmdShutdown      = "shutdown"
	CmdCancelChat    = "cancel_chat"
	CmdGetSystemStats = "get_system_stats"
	CmdGetMonitoring = "get_monitoring"

	CmdSetStartup       = "set_startup"
	CmdLoadSettings     = "load_settings"
	CmdSaveSettings     = "save_settings"
	CmdWebSearchAvailable = "web_search_available"

	CmdPull               = "pull"
	CmdGetModels          = "get_models"
	CmdDeleteModel        = "delete_model"
	CmdAirllmListModels   = "airllm_list_models"
	CmdAirllmStatus       = "airllm_status"
	CmdAirllmEnable       = "airllm_enable"
	CmdAirllmReload       = "airllm_reload"
	CmdAirllmDisable      = "airllm_disable"
	CmdAirllmSetActiveModel = "airllm_set_active_model"

	CmdListConversations         = "list_conversations"
	CmdGetConversationMessages   = "get_conversation_messages"
	CmdGetConversationMetadata   = "get_conversation_metadata"
	CmdDeleteConversation        = "delete_conversation"
	CmdChatHistorySetCryptoPassword = "chat_history_set_crypto_password"

	CmdChat = "chat"

	CmdTunnelCheckCloudflared   = "tunnel_check_cloudflared"
	CmdTunnelInstallCloudflared = "tunnel_install_cloudflared"
	CmdTunnelInstallProgress    = "tunnel_install_progress"
	CmdTunnelGetStatus          = "tunnel_get_status"
	CmdTunnelGenerateToken      = "tunnel_generate_token"
	CmdTunnelStart              = "tunnel_start"
	CmdTunnelStop               = "tunnel_stop"
	CmdTunnelGetQR              = "tunnel_get_qr"
	CmdTunnelAddAllowedIP       = "tunnel_add_allowed_ip"
	CmdTunnelRemoveAllowedIP    = "tunnel_remove_allowed_ip"
	CmdTunnelValidateToken      = "tunnel_validate_token"
	CmdTunnelValidateCustomToken = "tunnel_validate_custom_token"
	CmdTunnelSetCustomToken     = "tunnel_set_custom_token"
	CmdTunnelSetNamedTunnel     = "tunnel_set_named_tunnel"
	CmdTunnelGetQRWithToken     = "tunnel_get_qr_with_token"

	CmdMemorySave        = "memory_save"
	CmdMemoryGet         = "memory_get"
	CmdMemoryList        = "memory_list"
	CmdMemoryDelete      = "memory_delete"
	CmdMemoryClearSession = "memory_clear_session"
	CmdMemorySetCryptoPassword = "memory_set_crypto_password"

	CmdAnalyzeRepository = "analyze_repository"
	CmdGetRepoSummary    = "get_repo_summary"
	CmdDetectTechDebt    = "detect_tech_debt"

	CmdGrantPermission  = "grant_permission"
	CmdRevokePermission = "revoke_permission"
	CmdHasPermission    = "has_permission"

	CmdRateLimiterIsBlocked  = "rate_limiter_is_blocked"
	CmdRateLimiterGetBlocked = "rate_limiter_get_blocked"
	CmdRateLimiterSetLimit   = "rate_limiter_set_limit"
	CmdRateLimiterGetLimits  = "rate_limiter_get_limits"
	CmdRateLimiterReset      = "rate_limiter_reset"
	CmdRateLimiterGetStats   = "rate_limiter_get_stats"

	CmdUpdateConversationProject = "update_conversation_project"

	CmdProjectsList           = "projects_list"
	CmdProjectsGet            = "projects_get"
	CmdProjectsCreate         = "projects_create"
	CmdProjectsUpdate         = "projects_update"
	CmdProjectsDelete         = "projects_delete"
	CmdProjectsAddRepo        = "projects_add_repo"
	CmdProjectsRemoveRepo     = "projects_remove_repo"
	CmdProjectsGetOrCreateOrphan = "projects_get_or_create_orphan"
)

// AllCommands is the exhaustive enumeration from spec.md §6, used by tests
// to assert that the guard and dispatcher tables stay in lockstep with it.
var AllCommands = []string{
	CmdHealthCheck, CmdShutdown, CmdCancelChat, CmdGetSystemStats, CmdGetMonitoring,
	CmdSetStartup, CmdLoadSettings, CmdSaveSettings, CmdWebSearchAvailable,
	CmdPull, CmdGetModels, CmdDeleteModel, CmdAirllmListModels, CmdAirllmStatus,
	CmdAirllmEnable, CmdAirllmReload, CmdAirllmDisable, CmdAirllmSetActiveModel,
	CmdListConversations, CmdGetConversationMessages, CmdGetConversationMetadata,
	CmdDeleteConversation, CmdChatHistorySetCryptoPassword,
	CmdChat,
	CmdTunnelCheckCloudflared, CmdTunnelInstallCloudflared, CmdTunnelInstallProgress,
	CmdTunnelGetStatus, CmdTunnelGenerateToken, CmdTunnelStart, CmdTunnelStop,
	CmdTunnelGetQR, CmdTunnelAddAllowedIP, CmdTunnelRemoveAllowedIP,
	CmdTunnelValidateToken, CmdTunnelValidateCustomToken, CmdTunnelSetCustomToken,
	CmdTunnelSetNamedTunnel, CmdTunnelGetQRWithToken,
	CmdMemorySave, CmdMemoryGet, CmdMemoryList, CmdMemoryDelete, CmdMemoryClearSession,
	CmdMemorySetCryptoPassword,
	CmdAnalyzeRepository, CmdGetRepoSummary, CmdDetectTechDebt,
	CmdGrantPermission, CmdRevokePermission, CmdHasPermission,
	CmdRateLimiterIsBlocked, CmdRateLimiterGetBlocked, CmdRateLimiterSetLimit,
	CmdRateLimiterGetLimits, CmdRateLimiterReset, CmdRateLimiterGetStats,
	CmdUpdateConversationProject,
	CmdProjectsList, CmdProjectsGet, CmdProjectsCreate, CmdProjectsUpdate,
	CmdProjectsDelete, CmdProjectsAddRepo, CmdProjectsRemoveRepo,
	CmdProjectsGetOrCreateOrphan,
}
