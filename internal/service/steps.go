package service

import (
	"context"
	"log/slog"
)

// Step names reported in provisioning, attachment and deletion results
const (
	StepResolveEnvironment = "resolve-environment"
	StepDeploy             = "deploy"
	StepWaitRunning        = "wait-running"
	StepWaitFiles          = "wait-files"
	StepWriteConfig        = "write-config"
	StepRestart            = "restart"
	StepDNS                = "dns"
	StepPersist            = "persist"
	StepRollback           = "rollback"

	StepEnsureProxy = "ensure-proxy"
	StepContainer   = "container"
	StepStop        = "stop"
	StepNetwork     = "network"
	StepProxyConfig = "proxy-config"

	StepDatabaseRecord = "databaseRecord"
	StepDNSRecord      = "dnsRecord"
	StepFiles          = "files"
)

// StepResult is the outcome of one named step
type StepResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// stepLog accumulates step results and logs each one
type stepLog struct {
	steps    []StepResult
	logger   *slog.Logger
	op       string
	serverID string
}

func newStepLog(logger *slog.Logger, op, serverID string) *stepLog {
	return &stepLog{logger: logger, op: op, serverID: serverID}
}

// run executes fn as the named step and records its outcome
func (l *stepLog) run(ctx context.Context, name string, fn func() error) error {
	err := fn()
	l.record(ctx, name, err)
	return err
}

func (l *stepLog) record(ctx context.Context, name string, err error) {
	result := StepResult{Name: name, OK: err == nil}
	if err != nil {
		result.Error = err.Error()
		l.logger.WarnContext(ctx, "Step failed", "operation", l.op, "server_id", l.serverID, "step", name, "error", err)
	} else {
		l.logger.DebugContext(ctx, "Step completed", "operation", l.op, "server_id", l.serverID, "step", name)
	}
	l.steps = append(l.steps, result)
}

func (l *stepLog) skip(ctx context.Context, name, reason string) {
	l.logger.DebugContext(ctx, "Step skipped", "operation", l.op, "server_id", l.serverID, "step", name, "reason", reason)
	l.steps = append(l.steps, StepResult{Name: name, OK: true, Skipped: true, Detail: reason})
}

// failed reports whether any executed step failed
func (l *stepLog) failed() bool {
	for _, s := range l.steps {
		if !s.OK {
			return true
		}
	}
	return false
}
