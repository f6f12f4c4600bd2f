// Package precompile invokes external build tools on source files before
// their invalidation events reach the bus, following
// original_source/src/rebuilder.rs's process_coffee/check: a fixed
// extension-to-command mapping, one process per matching file, failure
// logged rather than propagated (spec §4.2 — precompile failures must never
// stall the watch loop).
//
// Command invocation itself is grounded on the teacher's
// internal/gvisor/sandbox_executor.go's use of exec.CommandContext. No
// exec.LookPath availability check is made here (see New).
package precompile

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ocx/devserver/internal/config"
	"github.com/ocx/devserver/internal/logging"
)

// Precompiler runs the configured external tool for each file extension it
// recognizes.
type Precompiler struct {
	tools  map[string]config.ToolConfig
	logger *log.Logger
}

// New builds a Precompiler from the configured tool list, keyed by
// extension (including the leading dot, e.g. ".coffee"). Tools whose binary
// cannot be found on PATH are kept but will log a failure on first use
// rather than being dropped at construction — a binary installed later in
// the process lifetime (e.g. via a mounted volume) should still work.
func New(tools []config.ToolConfig) *Precompiler {
	byExt := make(map[string]config.ToolConfig, len(tools))
	for _, t := range tools {
		byExt[t.Extension] = t
	}
	return &Precompiler{
		tools:  byExt,
		logger: logging.New("precompile"),
	}
}

// Run invokes the tool registered for path's extension, if any. A missing
// extension mapping is a silent no-op — most watched files have no
// precompile step. A non-zero exit or launch failure is logged and
// otherwise ignored: Run never returns an error because a broken build tool
// must not stop the watcher from publishing the invalidation event.
func (p *Precompiler) Run(ctx context.Context, path string) {
	tool, ok := p.tools[filepath.Ext(path)]
	if !ok {
		return
	}

	args := make([]string, 0, len(tool.Args)+1)
	args = append(args, tool.Args...)
	args = append(args, path)

	cmd := exec.CommandContext(ctx, tool.Binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		p.logger.Printf("precompile failed for %s (%s %s): %v\n%s",
			path, tool.Binary, strings.Join(args, " "), err, output)
		return
	}
	p.logger.Printf("precompiled %s", path)
}

// Describe renders the tool mapping for startup logging.
func (p *Precompiler) Describe() string {
	if len(p.tools) == 0 {
		return "no precompile tools configured"
	}
	parts := make([]string, 0, len(p.tools))
	for ext, tool := range p.tools {
		parts = append(parts, fmt.Sprintf("%s->%s", ext, tool.Binary))
	}
	return strings.Join(parts, ", ")
}
