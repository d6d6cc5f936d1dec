package local

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulehq/runtime/internal/domain/bridge"
	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/shared/types"
)

type sandboxEvents struct {
	mu         sync.Mutex
	ready      int
	logs       []types.LogEntry
	stats      []map[string]any
	errorsSeen []string
	violations []types.Violation
}

func (h *sandboxEvents) OnReady(bootTimeMs *float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready++
}
func (h *sandboxEvents) OnHeartbeat() {}
func (h *sandboxEvents) OnLog(entry types.LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, entry)
}
func (h *sandboxEvents) OnStats(p map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats = append(h.stats, p)
}
func (h *sandboxEvents) OnError(msg, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorsSeen = append(h.errorsSeen, msg)
}
func (h *sandboxEvents) OnViolation(v types.Violation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.violations = append(h.violations, v)
}
func (h *sandboxEvents) OnChannelCapped(msgType string) {}

func (h *sandboxEvents) readyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func newTestDriver() (*Driver, *sandboxEvents, *bridge.Bridge) {
	h := &sandboxEvents{}
	b := bridge.New(h, []string{bridge.SandboxOrigin}, logging.NewNop(), nil)
	return New(b, logging.NewNop()), h, b
}

// runScript executes the script to completion and tears the driver down.
func runScript(t *testing.T, d *Driver, script string, wait func() bool) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), script) }()

	require.Eventually(t, wait, 2*time.Second, 5*time.Millisecond)
	d.Kill()
	require.NoError(t, <-done)
}

func TestReadyAndConsole(t *testing.T) {
	d, h, _ := newTestDriver()

	runScript(t, d, `
		console.log("booting", 1, 2);
		capsule.ready(42);
	`, func() bool { return h.readyCount() == 1 })

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.logs, 1)
	assert.Equal(t, "info", h.logs[0].Level)
	assert.Equal(t, "booting 1 2", h.logs[0].Message)
}

func TestScriptExceptionReportedAsError(t *testing.T) {
	d, h, _ := newTestDriver()

	runScript(t, d, `throw new Error("boom")`, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.errorsSeen) == 1
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Contains(t, h.errorsSeen[0], "boom")
}

func TestNetworkGlobalsReportViolations(t *testing.T) {
	d, h, _ := newTestDriver()

	runScript(t, d, `
		fetch("https://evil.example");
		capsule.ready();
	`, func() bool { return h.readyCount() == 1 })

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.violations, 1)
	assert.Equal(t, "net", h.violations[0].Code)
	assert.Contains(t, h.violations[0].Message, "fetch")
}

func TestKillInterruptsRunawayScript(t *testing.T) {
	d, h, _ := newTestDriver()

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), `capsule.ready(); for(;;){}`) }()

	require.Eventually(t, func() bool { return h.readyCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	d.Kill()

	select {
	case err := <-done:
		require.NoError(t, err, "an interrupted script is not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("kill did not interrupt the script")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.errorsSeen)
}

func TestContextCancelInterrupts(t *testing.T) {
	d, _, _ := newTestDriver()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, `for(;;){}`) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not interrupt the script")
	}
}

func TestSetParamsVisibleToScript(t *testing.T) {
	d, h, b := newTestDriver()

	done := make(chan error, 1)
	// The script polls nothing; a restart re-runs it against the
	// latest params.
	script := `
		var p = capsule.params();
		if (p.theme === "dark") { capsule.stats({theme: p.theme}); }
		capsule.ready();
	`
	go func() { done <- d.Run(context.Background(), script) }()
	require.Eventually(t, func() bool { return h.readyCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, b.Send(bridge.CmdSetParams, map[string]any{"theme": "dark"}))
	require.True(t, b.Send(bridge.CmdRestart, nil))
	require.Eventually(t, func() bool { return h.readyCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	h.mu.Lock()
	stats := len(h.stats)
	h.mu.Unlock()
	assert.Equal(t, 1, stats)

	d.Kill()
	require.NoError(t, <-done)
}

func TestAttachRejectedWhenOriginNotAllowed(t *testing.T) {
	h := &sandboxEvents{}
	b := bridge.New(h, []string{"https://cdn.capsules.example"}, logging.NewNop(), nil)
	d := New(b, logging.NewNop())

	err := d.Run(context.Background(), `capsule.ready()`)
	assert.ErrorIs(t, err, ErrAttachRejected)
	assert.Zero(t, h.readyCount())
}
