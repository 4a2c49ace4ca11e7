// Botster Hub - Agent orchestration daemon with embedded Tailscale connectivity.
//
// This is the main entry point for the botster-hub CLI. It manages autonomous
// Claude agents for GitHub issues, providing a TUI for local interaction and
// Tailscale mesh networking for secure browser access.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	luar "github.com/yuin/gopher-lua"
	"github.com/botster/hub/internal/agent"
	"github.com/botster/hub/internal/commands"
	"github.com/botster/hub/internal/config"
	"github.com/botster/hub/internal/git"
	"github.com/botster/hub/internal/hub"
	"github.com/botster/hub/internal/lua"
	"github.com/botster/hub/internal/relay"
	"github.com/botster/hub/internal/server"
	"github.com/botster/hub/internal/tui"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	// Set up panic recovery to restore terminal on crash
	defer func() {
		if r := recover(); r != nil {
			// Restore terminal - in case we crashed while in raw/alt-screen mode
			// Print escape sequences to restore normal terminal state
			fmt.Print("\033[?1049l") // Exit alt screen
			fmt.Print("\033[?25h")   // Show cursor
			fmt.Print("\033[0m")     // Reset colors

			fmt.Fprintf(os.Stderr, "\n\nPANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	// Set up file logging so TUI doesn't get corrupted by log output
	logFile, err := os.Create("/tmp/botster-hub.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	logLevel := slog.LevelInfo
	if os.Getenv("BOTSTER_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:     "botster-hub",
		Short:   "Agent orchestration daemon for GitHub automation",
		Version: Version,
	}

	// Start command - runs the hub with TUI
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the hub daemon",
		RunE:  runStart,
	}
	startCmd.Flags().Bool("headless", false, "Run without TUI")
	rootCmd.AddCommand(startCmd)

	// Status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show hub status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		RunE:  runConfig,
	}
	rootCmd.AddCommand(configCmd)

	// json-get command - read JSON config values with dot notation
	jsonGetCmd := &cobra.Command{
		Use:   "json-get <key>",
		Short: "Get a configuration value by dot notation path (e.g., 'server_url')",
		Args:  cobra.ExactArgs(1),
		RunE:  runJSONGet,
	}
	rootCmd.AddCommand(jsonGetCmd)

	// json-set command - set JSON config values with dot notation
	jsonSetCmd := &cobra.Command{
		Use:   "json-set <key> <value>",
		Short: "Set a configuration value by dot notation path",
		Args:  cobra.ExactArgs(2),
		RunE:  runJSONSet,
	}
	rootCmd.AddCommand(jsonSetCmd)

	// json-delete command - delete JSON keys
	jsonDeleteCmd := &cobra.Command{
		Use:   "json-delete <key>",
		Short: "Delete a configuration key",
		Args:  cobra.ExactArgs(1),
		RunE:  runJSONDelete,
	}
	rootCmd.AddCommand(jsonDeleteCmd)

	// list-worktrees command - display all worktrees with info
	listWorktreesCmd := &cobra.Command{
		Use:   "list-worktrees",
		Short: "List all git worktrees with their information",
		RunE:  runListWorktrees,
	}
	rootCmd.AddCommand(listWorktreesCmd)

	// delete-worktree command - remove worktree by issue number
	deleteWorktreeCmd := &cobra.Command{
		Use:   "delete-worktree <issue-number>",
		Short: "Delete a worktree by issue number",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeleteWorktree,
	}
	rootCmd.AddCommand(deleteWorktreeCmd)

	// get-prompt command - get system prompt for worktree
	getPromptCmd := &cobra.Command{
		Use:   "get-prompt <issue-number>",
		Short: "Get the system prompt for a worktree",
		Args:  cobra.ExactArgs(1),
		RunE:  runGetPrompt,
	}
	rootCmd.AddCommand(getPromptCmd)

	// update command - prints manual update instructions
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update to the latest version",
		RunE:  runUpdate,
	}
	rootCmd.AddCommand(updateCmd)

	// login command - device flow authentication
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the Botster server",
		RunE:  runLogin,
	}
	rootCmd.AddCommand(loginCmd)

	// logout command - clear stored token
	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear stored authentication token",
		RunE:  runLogout,
	}
	rootCmd.AddCommand(logoutCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	headless, _ := cmd.Flags().GetBool("headless")
	logger := slog.Default()

	logger.Info("Starting Botster Hub", "version", Version, "headless", headless)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Check for valid token, prompt for login if missing
	if !cfg.HasToken() {
		fmt.Println("No valid authentication token found.")
		fmt.Println("Please authenticate to continue.")
		fmt.Println()

		if err := performDeviceFlowAuth(cfg); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}

		// Reload config with new token
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to reload config: %w", err)
		}
	}

	logger.Info("Configuration loaded",
		"server_url", cfg.ServerURL,
		"headscale_url", cfg.HeadscaleURL,
	)

	// Create the hub
	h, err := hub.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create hub: %w", err)
	}

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
		h.RequestQuit()
	}()

	// Set up the hub (Tailnet connection, SSH server)
	if err := h.Setup(ctx); err != nil {
		logger.Warn("Hub setup had issues", "error", err)
		// Continue anyway - some features may work without Tailnet
	}

	// Start the hub event loop in a goroutine
	go func() {
		if err := h.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Hub event loop error", "error", err)
		}
	}()

	// Start the embedded Lua runtime: scripted hooks and plugins that extend
	// hub behavior without a rebuild. It's built (but not yet running) before
	// the browser relay starts so the relay's output stream can run chunks
	// through its "terminal.output" hook.
	rt := newLuaRuntime(h, logger)
	go runLuaRuntime(ctx, rt, h, logger)

	// Start the end-to-end encrypted browser relay in the background, if a
	// server client is configured.
	if h.Server != nil {
		go runBrowserRelay(ctx, h, rt, logger)
	}

	// Run TUI or headless mode
	if headless {
		logger.Info("Running in headless mode")
		// Wait for context cancellation in headless mode
		<-ctx.Done()
	} else {
		// Run the TUI (blocks until quit)
		if err := tui.Run(h); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
	}

	// Clean up
	logger.Info("Shutting down...")
	if err := h.Shutdown(); err != nil {
		logger.Error("Shutdown error", "error", err)
	}

	return nil
}

// runBrowserRelay publishes the hub's PreKey bundle and keeps the encrypted
// relay WebSocket connected, reconnecting on drop until ctx is cancelled.
// It lives here rather than inside internal/hub because internal/relay
// imports internal/hub for HubAction, so the reverse import isn't possible.
func runBrowserRelay(ctx context.Context, h *hub.Hub, rt *lua.Runtime, logger *slog.Logger) {
	pump, err := relay.NewSocketPump(h.Server, logger)
	if err != nil {
		logger.Error("Failed to initialize browser relay", "error", err)
		return
	}

	if err := pump.PublishBundle(ctx); err != nil {
		logger.Warn("Failed to publish prekey bundle", "error", err)
	}

	go drainBrowserEvents(ctx, h, pump, logger)
	go streamSelectedAgentOutput(ctx, h, pump, rt)

	for ctx.Err() == nil {
		if err := pump.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Browser relay connection dropped, reconnecting", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

// drainBrowserEvents converts decrypted browser events into HubActions and
// applies them against the hub's real state.
func drainBrowserEvents(ctx context.Context, h *hub.Hub, pump *relay.SocketPump, logger *slog.Logger) {
	repoPath, repoName := h.RepoInfo()
	evtCtx := &relay.BrowserEventContext{
		WorktreeBase: h.Config.WorktreeBase,
		RepoPath:     repoPath,
		RepoName:     repoName,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case se, ok := <-pump.Events():
			if !ok {
				return
			}
			action := relay.BrowserEventToHubAction(&se.Event, evtCtx)
			if action == nil {
				continue
			}
			if err := h.ApplyHubAction(*action); err != nil {
				logger.Warn("Failed to apply browser action", "session_id", se.SessionID, "error", err)
			}
		}
	}
}

// streamSelectedAgentOutput mirrors the currently selected agent's PTY
// output to every connected browser session, the same way the TUI mirrors
// it to the terminal. Selection is hub-wide (see Hub.GetSelectedAgent), so
// all browsers see whichever agent a local operator (or a browser's own
// select_agent command) has focused. Each chunk is run through the Lua
// runtime's "terminal.output" hook chain first, so a plugin can redact or
// drop output before it ever reaches a browser.
func streamSelectedAgentOutput(ctx context.Context, h *hub.Hub, pump *relay.SocketPump, rt *lua.Runtime) {
	const pollInterval = 200 * time.Millisecond

	var current *agent.Agent
	for {
		if current == nil {
			current = h.GetSelectedAgent()
			if current == nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(pollInterval):
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case chunk := <-current.OutputUpdates():
			filtered := rt.RunHook("terminal.output", luar.LString(string(chunk)))
			if filtered == luar.LNil {
				continue
			}
			pump.BroadcastTerminal(relay.OutputMessage(filtered.String()))
		case <-time.After(pollInterval):
			current = h.GetSelectedAgent()
		}
	}
}

// newLuaRuntime constructs the embedded Lua runtime rooted at
// ~/.botster_hub/lua, wiring its host-facing dependencies to the real hub.
// It does not yet load any modules or start watching — call runLuaRuntime
// to do that once the caller is ready to start its goroutine.
func newLuaRuntime(h *hub.Hub, logger *slog.Logger) *lua.Runtime {
	configDir, err := config.ConfigDir()
	if err != nil {
		logger.Warn("Lua runtime using current directory: could not resolve config directory", "error", err)
		configDir = "."
	}
	baseDir := filepath.Join(configDir, "lua")

	deps := lua.Deps{
		ListAgentKeys: func() []string {
			agents := h.GetAgentsOrdered()
			keys := make([]string, 0, len(agents))
			for _, ag := range agents {
				keys = append(keys, ag.SessionKey())
			}
			return keys
		},
	}

	return lua.New(baseDir, deps, logger)
}

// runLuaRuntime loads rt's modules and plugins, starts its filesystem
// watcher, and drains hub-facing actions emitted by Lua code into the real
// hub the same way drainBrowserEvents does for the browser relay. It lives
// here rather than inside internal/hub for the same reason runBrowserRelay
// does: internal/lua imports internal/hub for HubAction, so the reverse
// import isn't possible.
func runLuaRuntime(ctx context.Context, rt *lua.Runtime, h *hub.Hub, logger *slog.Logger) {
	rt.LoadAll()

	watcher, err := lua.NewWatcher(rt, logger)
	if err != nil {
		logger.Warn("Lua filesystem watcher disabled", "error", err)
	} else {
		go watcher.Run()
		defer watcher.Close()
	}

	go drainLuaActions(ctx, h, rt, logger)

	rt.Run(ctx)
}

// drainLuaActions applies every HubAction emitted by Lua plugins/hooks
// against the real hub state.
func drainLuaActions(ctx context.Context, h *hub.Hub, rt *lua.Runtime, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-rt.Actions():
			if !ok {
				return
			}
			if err := h.ApplyHubAction(action); err != nil {
				logger.Warn("Failed to apply Lua action", "type", action.Type.String(), "error", err)
			}
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("Status: not implemented yet")
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("Server URL: %s\n", cfg.ServerURL)
	fmt.Printf("Headscale URL: %s\n", cfg.HeadscaleURL)
	fmt.Printf("Poll Interval: %d seconds\n", cfg.PollInterval)
	fmt.Printf("Max Sessions: %d\n", cfg.MaxSessions)

	return nil
}

func runJSONGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	result, err := commands.JSONGet(configPath, key)
	if err != nil {
		return err
	}

	fmt.Println(result)
	return nil
}

func runJSONSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte("{}"), 0600); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
	}

	if err := commands.JSONSet(configPath, key, value); err != nil {
		return err
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

func runJSONDelete(cmd *cobra.Command, args []string) error {
	key := args[0]

	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if err := commands.JSONDelete(configPath, key); err != nil {
		return err
	}

	fmt.Printf("Deleted %s\n", key)
	return nil
}

func runListWorktrees(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	logger := slog.Default()
	gitMgr := git.New(cwd, logger)

	worktrees, err := gitMgr.ListAllWorktrees()
	if err != nil {
		return fmt.Errorf("failed to list worktrees: %w", err)
	}

	if len(worktrees) == 0 {
		fmt.Println("No worktrees found")
		return nil
	}

	for _, wt := range worktrees {
		fmt.Printf("%s\t%s\n", wt.Path, wt.Branch)
	}

	return nil
}

func runDeleteWorktree(cmd *cobra.Command, args []string) error {
	issueNum, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid issue number: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	logger := slog.Default()
	gitMgr := git.New(cwd, logger)

	// Find worktree by issue number
	worktrees, err := gitMgr.ListAllWorktrees()
	if err != nil {
		return fmt.Errorf("failed to list worktrees: %w", err)
	}

	branchName := fmt.Sprintf("botster-issue-%d", issueNum)
	var targetWorktree *git.Worktree
	for _, wt := range worktrees {
		if wt.Branch == branchName {
			targetWorktree = wt
			break
		}
	}

	if targetWorktree == nil {
		return fmt.Errorf("worktree for issue %d not found", issueNum)
	}

	if err := gitMgr.DeleteWorktreeByPath(targetWorktree.Path, branchName); err != nil {
		return fmt.Errorf("failed to delete worktree: %w", err)
	}

	fmt.Printf("Deleted worktree for issue %d at %s\n", issueNum, targetWorktree.Path)
	return nil
}

func runGetPrompt(cmd *cobra.Command, args []string) error {
	issueNum, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid issue number: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	logger := slog.Default()
	gitMgr := git.New(cwd, logger)

	// Find worktree by issue number
	worktrees, err := gitMgr.ListAllWorktrees()
	if err != nil {
		return fmt.Errorf("failed to list worktrees: %w", err)
	}

	branchName := fmt.Sprintf("botster-issue-%d", issueNum)
	var targetWorktree *git.Worktree
	for _, wt := range worktrees {
		if wt.Branch == branchName {
			targetWorktree = wt
			break
		}
	}

	if targetWorktree == nil {
		return fmt.Errorf("worktree for issue %d not found", issueNum)
	}

	// Read .botster_prompt from worktree
	promptPath := filepath.Join(targetWorktree.Path, ".botster_prompt")
	data, err := os.ReadFile(promptPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no prompt file found for issue %d", issueNum)
		}
		return fmt.Errorf("failed to read prompt: %w", err)
	}

	fmt.Print(string(data))
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	// For now, just print instructions since auto-update requires server integration
	fmt.Println("Update functionality requires server integration.")
	fmt.Println("")
	fmt.Println("To manually update:")
	fmt.Println("  curl -L https://api.botster.dev/downloads/botster-hub -o /usr/local/bin/botster-hub")
	fmt.Println("  chmod +x /usr/local/bin/botster-hub")
	fmt.Println("")
	fmt.Printf("Current version: %s\n", Version)

	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Check if already logged in
	if cfg.HasToken() {
		fmt.Println("Already logged in.")
		fmt.Println("Run 'botster-hub logout' to clear the stored token.")
		return nil
	}

	return performDeviceFlowAuth(cfg)
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ClearToken(); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}

	fmt.Println("Logged out successfully.")
	return nil
}

// performDeviceFlowAuth runs the OAuth device flow authentication.
func performDeviceFlowAuth(cfg *config.Config) error {
	ctx := context.Background()

	fmt.Println("Authenticating with Botster...")
	fmt.Println()

	// Request device code
	deviceCode, err := server.RequestDeviceCode(ctx, cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("failed to request device code: %w", err)
	}

	fmt.Printf("Please visit: %s\n", deviceCode.VerificationURL)
	fmt.Printf("And enter code: %s\n", deviceCode.UserCode)
	fmt.Println()
	fmt.Println("Waiting for authorization...")

	// Poll for token
	interval := time.Duration(deviceCode.Interval) * time.Second
	if interval < time.Second {
		interval = 5 * time.Second
	}

	deadline := time.Now().Add(time.Duration(deviceCode.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		time.Sleep(interval)

		tokenResp, err := server.PollDeviceToken(ctx, cfg.ServerURL, deviceCode.DeviceCode)
		if err != nil {
			return fmt.Errorf("failed to poll for token: %w", err)
		}

		switch tokenResp.Error {
		case "":
			// Success!
			if err := cfg.SaveToken(tokenResp.AccessToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
			fmt.Println("Successfully authenticated!")
			return nil
		case "authorization_pending":
			// Keep polling
			continue
		case "slow_down":
			interval += 5 * time.Second
			continue
		case "expired_token":
			return fmt.Errorf("authorization expired, please try again")
		case "access_denied":
			return fmt.Errorf("authorization denied by user")
		default:
			return fmt.Errorf("authorization failed: %s", tokenResp.Error)
		}
	}

	return fmt.Errorf("authorization timed out")
}

