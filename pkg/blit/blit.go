// Package blit is the public facade a CLI or other caller binds to: three
// transfer verbs (Copy, Mirror, Move) plus DiagnosticsPerf, sitting on top
// of the orchestrator for local work and the remote client for daemon
// work. Endpoint resolution — deciding whether a given side of a transfer
// is a local path or a remote daemon — is the caller's job (the CLI verb
// parser this module doesn't build); Target is the typed result of that
// decision.
package blit

import (
	"context"
	"fmt"

	"github.com/roethlar/blit/internal/orchestrator"
	"github.com/roethlar/blit/internal/remote"
	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// Target names one side of a transfer: a local filesystem path, or a
// remote daemon endpoint. Exactly one of Path or Endpoint is set; use
// LocalPath or RemoteEndpoint to build one.
type Target struct {
	Path     types.Locator
	Endpoint *remote.Endpoint
}

// LocalPath builds a Target naming a local filesystem path.
func LocalPath(path string) Target {
	return Target{Path: types.Locator(path)}
}

// RemoteEndpoint builds a Target naming a remote daemon endpoint.
func RemoteEndpoint(ep remote.Endpoint) Target {
	return Target{Endpoint: &ep}
}

func (t Target) isRemote() bool { return t.Endpoint != nil }

// Blit wires the orchestrator (local transfers), the remote client
// (daemon transfers), and the performance-history/predictor pair that
// back DiagnosticsPerf into the three verbs a caller drives.
type Blit struct {
	orch       *orchestrator.Orchestrator
	remote     *remote.Remote
	planner    types.MirrorPlanner
	history    types.PerformanceHistory
	predictor  types.Predictor
	stagingDir string
}

// Config supplies Blit's collaborators. Orchestrator is required;
// Remote may be nil to disable remote endpoints entirely (every Target
// passed in must then be local). History and Predictor may be nil,
// matching the rest of the module's optional-dependency convention.
// StagingDir is only consulted for a remote-to-remote transfer, where
// it stages the pulled tree before pushing it on to the destination
// daemon.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Remote       *remote.Remote
	Planner      types.MirrorPlanner
	History      types.PerformanceHistory
	Predictor    types.Predictor
	StagingDir   string
}

// New builds a Blit from cfg.
func New(cfg Config) *Blit {
	return &Blit{
		orch:       cfg.Orchestrator,
		remote:     cfg.Remote,
		planner:    cfg.Planner,
		history:    cfg.History,
		predictor:  cfg.Predictor,
		stagingDir: cfg.StagingDir,
	}
}

// Copy transfers src to dst without deleting anything at the
// destination.
func (b *Blit) Copy(ctx context.Context, src, dst Target, opts types.PlanOptions) (types.Summary, error) {
	return b.execute(ctx, src, dst, types.ModeCopy, opts)
}

// Mirror makes dst byte-equivalent to src, including deletions.
func (b *Blit) Mirror(ctx context.Context, src, dst Target, opts types.PlanOptions) (types.Summary, error) {
	return b.execute(ctx, src, dst, types.ModeMirror, opts)
}

// Move transfers src to dst and then removes the transferred entries
// from src. Local and push moves remove them only when the summary
// reports no failures; a pull move removes them once the daemon's send
// finishes without a transport error. A remote-to-remote move removes
// nothing at src.
func (b *Blit) Move(ctx context.Context, src, dst Target, opts types.PlanOptions) (types.Summary, error) {
	return b.execute(ctx, src, dst, types.ModeMove, opts)
}

func (b *Blit) execute(ctx context.Context, src, dst Target, mode types.Mode, opts types.PlanOptions) (types.Summary, error) {
	switch {
	case !src.isRemote() && !dst.isRemote():
		if b.orch == nil {
			return types.Summary{}, wrapBlit(errors.ErrCodeNotInitialized, "execute_local", errNoOrchestrator)
		}
		return b.orch.ExecuteLocal(ctx, src.Path, dst.Path, mode, opts)

	case !src.isRemote() && dst.isRemote():
		if b.remote == nil {
			return types.Summary{}, wrapBlit(errors.ErrCodeNotInitialized, "execute_remote_push", errNoRemote)
		}
		return b.remote.ExecuteRemotePush(ctx, src.Path, *dst.Endpoint, mode, opts)

	case src.isRemote() && !dst.isRemote():
		if b.remote == nil {
			return types.Summary{}, wrapBlit(errors.ErrCodeNotInitialized, "execute_remote_pull", errNoRemote)
		}
		return b.remote.ExecuteRemotePull(ctx, *src.Endpoint, dst.Path, mode, opts, b.planner)

	default:
		if b.remote == nil {
			return types.Summary{}, wrapBlit(errors.ErrCodeNotInitialized, "execute_remote_remote", errNoRemote)
		}
		return b.remote.ExecuteRemoteRemote(ctx, *src.Endpoint, *dst.Endpoint, mode, opts, b.planner, b.stagingDir)
	}
}

// PerfDiagnostics reports what the performance-history store and
// predictor currently believe about a given workload shape.
type PerfDiagnostics struct {
	Recent    []types.PerfRecord
	Predicted float64
}

// DiagnosticsPerf reports recent performance-history records for key and
// the predictor's current estimate for a workload of fileCount entries
// totaling totalBytes. Either source is simply omitted when its
// collaborator was not configured.
func (b *Blit) DiagnosticsPerf(key types.ProfileKey, fileCount, totalBytes uint64, limit int) (PerfDiagnostics, error) {
	var diag PerfDiagnostics
	if b.history != nil {
		recs, err := b.history.Recent(key, limit)
		if err != nil {
			return diag, wrapBlit(errors.ErrCodeOperationFailed, "diagnostics_perf", err)
		}
		diag.Recent = recs
	}
	if b.predictor != nil {
		diag.Predicted = b.predictor.Predict(key, fileCount, totalBytes)
	}
	return diag, nil
}

type blitError string

func (e blitError) Error() string { return string(e) }

var (
	errNoOrchestrator = blitError("blit: no orchestrator configured for a local transfer")
	errNoRemote       = blitError("blit: no remote client configured for a remote endpoint")
)

func wrapBlit(code errors.ErrorCode, op string, err error) error {
	return errors.NewError(code, fmt.Sprintf("blit: %s failed", op)).
		WithComponent("blit").WithOperation(op).WithCause(err)
}
