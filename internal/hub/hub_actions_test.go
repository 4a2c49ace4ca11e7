package hub

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/botster/hub/internal/agent"
	"github.com/botster/hub/internal/config"
)

func testHub() *Hub {
	return &Hub{
		Agents: make(map[string]*agent.Agent),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// withAgent adds an agent whose SessionKey() equals key; key must start with
// "owner-repo-".
func withAgent(h *Hub, key string) *agent.Agent {
	ag := agent.New("owner-repo", nil, strings.TrimPrefix(key, "owner-repo-"), "")
	h.Agents[key] = ag
	return ag
}

func TestApplyHubActionSelectByKeyFound(t *testing.T) {
	h := testHub()
	withAgent(h, "owner-repo-a")
	withAgent(h, "owner-repo-b")

	err := h.ApplyHubAction(SelectByKeyAction("owner-repo-b"))
	if err != nil {
		t.Fatalf("ApplyHubAction returned error: %v", err)
	}

	if key := h.GetSelectedAgent().SessionKey(); key != "owner-repo-b" {
		t.Errorf("selected session key = %q, want owner-repo-b", key)
	}
}

func TestApplyHubActionSelectByKeyNotFound(t *testing.T) {
	h := testHub()
	withAgent(h, "owner-repo-a")

	err := h.ApplyHubAction(SelectByKeyAction("missing"))
	if err == nil {
		t.Fatal("expected error selecting a missing session key")
	}
}

func TestApplyHubActionCloseAgent(t *testing.T) {
	h := testHub()
	withAgent(h, "owner-repo-a")

	err := h.ApplyHubAction(CloseAgentAction("owner-repo-a", false))
	if err != nil {
		t.Fatalf("ApplyHubAction returned error: %v", err)
	}

	if _, ok := h.Agents["owner-repo-a"]; ok {
		t.Error("agent should have been removed from Agents map")
	}
}

func TestApplyHubActionCloseAgentNotFound(t *testing.T) {
	h := testHub()

	err := h.ApplyHubAction(CloseAgentAction("missing", false))
	if err == nil {
		t.Fatal("expected error closing a missing agent")
	}
}

func TestApplyHubActionSelectNextPrevious(t *testing.T) {
	h := testHub()
	withAgent(h, "owner-repo-a")
	withAgent(h, "owner-repo-b")

	if err := h.ApplyHubAction(HubAction{Type: ActionSelectNext}); err != nil {
		t.Fatalf("select next: %v", err)
	}
	if err := h.ApplyHubAction(HubAction{Type: ActionSelectPrevious}); err != nil {
		t.Fatalf("select previous: %v", err)
	}
}

func TestApplyHubActionSendInputNoAgentSelected(t *testing.T) {
	h := testHub()

	err := h.ApplyHubAction(HubAction{Type: ActionSendInput, Input: []byte("hello")})
	if err == nil {
		t.Fatal("expected error sending input with no agent selected")
	}
}

func TestApplyHubActionResize(t *testing.T) {
	h := testHub()
	withAgent(h, "owner-repo-a")

	err := h.ApplyHubAction(HubAction{Type: ActionResize, Rows: 40, Cols: 120})
	if err != nil {
		t.Fatalf("ApplyHubAction returned error: %v", err)
	}
	if h.TerminalDims.Rows != 40 || h.TerminalDims.Cols != 120 {
		t.Errorf("TerminalDims = %dx%d, want 40x120", h.TerminalDims.Rows, h.TerminalDims.Cols)
	}
}

func TestApplyHubActionUnsupportedIsIgnored(t *testing.T) {
	h := testHub()

	err := h.ApplyHubAction(HubAction{Type: ActionOpenMenu})
	if err != nil {
		t.Fatalf("unsupported action should be silently ignored, got error: %v", err)
	}
}

func TestSelectAgentByKey(t *testing.T) {
	h := testHub()
	withAgent(h, "owner-repo-a")
	withAgent(h, "owner-repo-b")

	if !h.SelectAgentByKey("owner-repo-b") {
		t.Fatal("SelectAgentByKey should find an existing session key")
	}
	if got := h.GetSelectedAgent().SessionKey(); got != "owner-repo-b" {
		t.Errorf("selected session key = %q, want owner-repo-b", got)
	}

	if h.SelectAgentByKey("missing") {
		t.Error("SelectAgentByKey should return false for an unknown session key")
	}
	// Selection should be unchanged after a failed lookup.
	if got := h.GetSelectedAgent().SessionKey(); got != "owner-repo-b" {
		t.Errorf("selected session key after failed lookup = %q, want owner-repo-b", got)
	}
}

func TestRepoInfoNilGit(t *testing.T) {
	h := testHub()

	path, name := h.RepoInfo()
	if path != "" || name != "" {
		t.Errorf("RepoInfo with nil Git = (%q, %q), want empty strings", path, name)
	}
}

func TestMessageContextNilGit(t *testing.T) {
	h := testHub()
	h.Config = config.DefaultConfig()

	ctx := h.messageContext()
	if ctx.RepoPath != "" || ctx.RepoName != "" {
		t.Errorf("messageContext with nil Git should leave repo fields empty, got %+v", ctx)
	}
	if ctx.MaxSessions != h.Config.MaxSessions {
		t.Errorf("MaxSessions = %d, want %d", ctx.MaxSessions, h.Config.MaxSessions)
	}
	if ctx.CurrentAgentCount != 0 {
		t.Errorf("CurrentAgentCount = %d, want 0", ctx.CurrentAgentCount)
	}
}

func TestSpawnAgentSkipsDuplicateSessionKey(t *testing.T) {
	h := testHub()
	h.Config = config.DefaultConfig()

	sessionKey := buildSessionKey("owner-repo", nil, "feature-x")
	withAgent(h, sessionKey)

	// SpawnAgent checks for an existing session key before it ever touches
	// the filesystem or starts a PTY, so this exercises the dedup path
	// without spawning a real process.
	if err := h.SpawnAgent("owner-repo", nil, "feature-x", t.TempDir(), "", nil); err != nil {
		t.Fatalf("SpawnAgent returned error: %v", err)
	}

	if len(h.Agents) != 1 {
		t.Fatalf("len(h.Agents) = %d, want 1 (duplicate spawn should be a no-op)", len(h.Agents))
	}
}
