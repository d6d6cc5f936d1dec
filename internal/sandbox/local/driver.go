// Package local runs a scripted-component bundle in-process on a goja
// VM. It stands in for the browser iframe in demo mode and integration
// tests: the driver attaches to the session bridge as its transport,
// receives host control commands, and reports ready/log/stats/error/
// policyViolation messages back through the same verified inbound path.
//
// The capability set is script execution only. Network and timer
// globals are stubbed out; touching a network global reports a policy
// violation instead of doing anything.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/capsulehq/runtime/internal/domain/bridge"
	"github.com/capsulehq/runtime/internal/infrastructure/logging"
)

// ErrAttachRejected means the bridge refused the sandbox placeholder
// origin, usually because the session allowlist names a real origin.
var ErrAttachRejected = errors.New("local: bridge rejected sandbox origin")

// blockedGlobals are reachable but inert; calling one reports a policy
// violation to the host.
var blockedGlobals = []string{"fetch", "XMLHttpRequest", "WebSocket", "importScripts"}

// Driver executes one bundle script and speaks the bridge protocol.
type Driver struct {
	bridge *bridge.Bridge
	logger *logging.Logger

	mu     sync.Mutex
	vm     *goja.Runtime
	paused bool
	params map[string]any

	restart   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a driver bound to a session bridge.
func New(b *bridge.Bridge, logger *logging.Logger) *Driver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Driver{
		bridge:  b,
		logger:  logger.Named("sandbox"),
		params:  map[string]any{},
		restart: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Post receives a host control command. The driver only answers to the
// sandbox placeholder origin; anything else is a transport bug.
func (d *Driver) Post(msg bridge.Message, origin string) error {
	if origin != bridge.SandboxOrigin {
		return fmt.Errorf("local: origin %q does not match sandbox peer", origin)
	}

	switch msg.Type {
	case bridge.CmdPause:
		d.setPaused(true)
	case bridge.CmdResume:
		d.setPaused(false)
	case bridge.CmdSetParams:
		var params map[string]any
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &params); err != nil {
				return fmt.Errorf("local: decode params: %w", err)
			}
		}
		d.mu.Lock()
		d.params = params
		d.mu.Unlock()
	case bridge.CmdRestart:
		select {
		case d.restart <- struct{}{}:
		default:
		}
	case bridge.CmdKill:
		d.Kill()
	default:
		d.logger.Debug("Ignoring unknown control command", zap.String("type", msg.Type))
	}
	return nil
}

// Kill interrupts the running script and ends Run. Safe to call from
// any goroutine and more than once.
func (d *Driver) Kill() {
	d.closeOnce.Do(func() { close(d.done) })
	d.mu.Lock()
	vm := d.vm
	d.mu.Unlock()
	if vm != nil {
		vm.Interrupt("killed")
	}
}

// Run attaches to the bridge and executes the bundle script, staying
// attached to serve restarts until killed or the context ends. Each
// restart gets a fresh VM.
func (d *Driver) Run(ctx context.Context, script string) error {
	if !d.bridge.Attach(d, bridge.SandboxOrigin) {
		return ErrAttachRejected
	}
	defer d.bridge.Detach(d)

	for {
		if err := d.execute(ctx, script); err != nil {
			return err
		}

		select {
		case <-d.restart:
		case <-d.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// execute runs the script once on a fresh VM. Script exceptions are
// reported to the host as error messages, not returned; only transport
// or interpreter setup problems surface as Go errors.
func (d *Driver) execute(ctx context.Context, script string) error {
	vm := goja.New()
	vm.SetMaxCallStackSize(1024)
	if err := d.setupGlobals(vm); err != nil {
		return err
	}

	d.mu.Lock()
	d.vm = vm
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("context cancelled")
		case <-d.done:
			vm.Interrupt("killed")
		case <-finished:
		}
	}()

	_, err := vm.RunString(script)
	close(finished)

	d.mu.Lock()
	d.vm = nil
	d.mu.Unlock()

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return nil
	}
	if err != nil {
		d.logger.Debug("Bundle script raised", zap.Error(err))
		d.emit(bridge.MsgError, map[string]any{
			"message": err.Error(),
			"code":    "exception",
		})
	}
	return nil
}

func (d *Driver) setupGlobals(vm *goja.Runtime) error {
	// No module system, no host process.
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	// Timers are no-ops; scripts are run to completion.
	noop := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	vm.Set("setTimeout", noop)
	vm.Set("setInterval", noop)

	for _, name := range blockedGlobals {
		name := name
		vm.Set(name, func(call goja.FunctionCall) goja.Value {
			d.emit(bridge.MsgViolation, map[string]any{
				"code":    "net",
				"message": name + " is not available in this sandbox",
			})
			return goja.Undefined()
		})
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(level, d.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	capsule := vm.NewObject()
	capsule.Set("ready", func(call goja.FunctionCall) goja.Value {
		payload := map[string]any{}
		if len(call.Arguments) > 0 {
			payload["bootTime"] = call.Arguments[0].ToFloat()
		}
		d.emit(bridge.MsgReady, payload)
		return goja.Undefined()
	})
	capsule.Set("stats", func(call goja.FunctionCall) goja.Value {
		if d.isPaused() || len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		d.emit(bridge.MsgStats, call.Arguments[0].Export())
		return goja.Undefined()
	})
	capsule.Set("heartbeat", func(call goja.FunctionCall) goja.Value {
		d.emit(bridge.MsgHeartbeat, nil)
		return goja.Undefined()
	})
	capsule.Set("params", func(call goja.FunctionCall) goja.Value {
		d.mu.Lock()
		params := d.params
		d.mu.Unlock()
		return vm.ToValue(params)
	})
	return vm.Set("capsule", capsule)
}

func (d *Driver) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}
		d.emit(bridge.MsgLog, map[string]any{
			"level":     level,
			"message":   msg,
			"timestamp": time.Now().UnixMilli(),
		})
		return goja.Undefined()
	}
}

// emit sends a sandbox-side message through the bridge's verified
// inbound path, the same one the WebSocket attachment uses.
func (d *Driver) emit(msgType string, payload any) {
	msg, err := bridge.NewMessage(msgType, payload)
	if err != nil {
		d.logger.Warn("Dropping unmarshalable sandbox message", zap.String("type", msgType), zap.Error(err))
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	d.bridge.HandleInbound(d, bridge.SandboxOrigin, raw)
}

func (d *Driver) setPaused(v bool) {
	d.mu.Lock()
	d.paused = v
	d.mu.Unlock()
}

func (d *Driver) isPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}
