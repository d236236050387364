package loghub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
)

const seedTailLines = 100

// stripAgentPrefix removes the guest agent's own log framing, e.g. "[12:00:01] [stdout] ...",
// from a line before the pump forwards it (spec §4.7).
func stripAgentPrefix(line string) string {
	if !strings.HasPrefix(line, "[") {
		return line
	}
	// Strip up to two bracketed prefixes: "[ts] [stream] rest".
	rest := line
	for i := 0; i < 2; i++ {
		end := strings.Index(rest, "] ")
		if end == -1 || !strings.HasPrefix(rest, "[") {
			break
		}
		rest = rest[end+2:]
	}
	return rest
}

// Pump tails a sandbox's dev-server log file and forwards lines to the Log
// Hub (spec §4.7). It seeds with `tail -n 100` on first read, then polls by
// byte offset every interval, and self-terminates after lifetime or when
// ctx is cancelled (the orchestrator roots the pump's context in the
// session's lifetime, per spec §9's "fire-and-forget with explicit
// cancellation tokens" redesign note).
type Pump struct {
	hub       *Hub
	pc        *provider.Client
	log       *zap.Logger
	projectID string
	endpoint  string
	sandboxID string
	logPath   string
	interval  time.Duration
	lifetime  time.Duration
}

// NewPump constructs a log pump for a single running preview. interval and
// lifetime come from OrchestratorConfig.LogPumpInterval/LogPumpMaxLifetime
// (spec §4.7: poll every 1.5s, self-terminate after 30 min).
func NewPump(hub *Hub, pc *provider.Client, log *zap.Logger, projectID, endpoint, sandboxID, logPath string, interval, lifetime time.Duration) *Pump {
	return &Pump{hub: hub, pc: pc, log: log, projectID: projectID, endpoint: endpoint, sandboxID: sandboxID, logPath: logPath, interval: interval, lifetime: lifetime}
}

// Run blocks, pumping log lines, until ctx is cancelled or the pump's own
// lifetime budget expires.
func (p *Pump) Run(ctx context.Context) {
	deadline := time.Now().Add(p.lifetime)
	offset, err := p.seed(ctx)
	if err != nil {
		p.log.Warn("log pump seed failed, starting from offset 0", logging.WithProjectID(p.projectID), zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				return
			}

			newOffset, lines, err := p.readFrom(ctx, offset)
			if err != nil {
				continue
			}
			offset = newOffset
			for _, line := range lines {
				p.hub.AddLog(p.projectID, stripAgentPrefix(line), LineStdout)
			}
		}
	}
}

func (p *Pump) seed(ctx context.Context) (int64, error) {
	result, err := p.pc.Exec(ctx, p.endpoint, fmt.Sprintf("tail -n %d %s", seedTailLines, p.logPath), "/", p.sandboxID, 5*time.Second)
	if err != nil {
		return 0, err
	}

	for _, line := range splitNonEmpty(result.Stdout) {
		p.hub.AddLog(p.projectID, stripAgentPrefix(line), LineStdout)
	}

	sizeResult, err := p.pc.Exec(ctx, p.endpoint, "stat -c %s "+p.logPath, "/", p.sandboxID, 5*time.Second)
	if err != nil {
		return 0, err
	}

	var size int64
	_, _ = fmt.Sscanf(strings.TrimSpace(sizeResult.Stdout), "%d", &size)
	return size, nil
}

func (p *Pump) readFrom(ctx context.Context, offset int64) (int64, []string, error) {
	cmd := fmt.Sprintf("tail -c +%d %s", offset+1, p.logPath)
	result, err := p.pc.Exec(ctx, p.endpoint, cmd, "/", p.sandboxID, 5*time.Second)
	if err != nil {
		return offset, nil, err
	}

	lines := splitNonEmpty(result.Stdout)
	return offset + int64(len(result.Stdout)), lines, nil
}

func splitNonEmpty(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
