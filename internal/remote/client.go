package remote

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/roethlar/blit/internal/buffer"
	"github.com/roethlar/blit/internal/circuit"
	"github.com/roethlar/blit/internal/metrics"
	"github.com/roethlar/blit/internal/transport/control"
	"github.com/roethlar/blit/internal/transport/data"
	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/retry"
	"github.com/roethlar/blit/pkg/types"
)

// sessionTTL bounds how long a negotiated data-plane session's token
// stays valid; daemons reject streams presenting an expired session.
const sessionTTL = 5 * time.Minute

// defaultStreamCount is the stream_count a client requests when the
// caller does not tune it itself (the auto-tuner normally supplies this
// via PlanOptions-adjacent config, not wired through here — see
// DESIGN.md).
const defaultStreamCount = 4

// needListBatchMaxEntries bounds how many FileRecords are carried in one
// NeedList batch, matching the control plane's own low-latency batching
// goal for the first need-list byte.
const needListBatchMaxEntries = 2048

// Remote drives the client half of a remote transfer: it dials a
// daemon's control plane, streams a manifest, and moves payload bytes
// over the negotiated data plane. One Remote may be reused across many
// transfers; it holds no per-transfer state.
type Remote struct {
	enumerator  types.Enumerator
	pool        *buffer.Pool
	chunkBytes  int
	streamCount int
	breakers    *circuit.Manager
	retryer     *retry.Retryer
	metrics     *metrics.Collector
}

// NewRemote builds a Remote. breakers, retryer and metrics may be nil to
// disable their respective behaviors (no circuit breaking, no bounded
// reconnect, no metrics recording). retryer only ever wraps the
// data-plane attempt, the dial together with the transfer over it (see
// sendEntries/recvEntries below), so callers
// that want it enabled should build it with retry.NewForDataPlane
// rather than retry.DefaultConfig.
func NewRemote(enumerator types.Enumerator, pool *buffer.Pool, chunkBytes, streamCount int, breakers *circuit.Manager, retryer *retry.Retryer, collector *metrics.Collector) *Remote {
	if chunkBytes <= 0 {
		chunkBytes = 1 << 20
	}
	if streamCount <= 0 {
		streamCount = defaultStreamCount
	}
	return &Remote{
		enumerator:  enumerator,
		pool:        pool,
		chunkBytes:  chunkBytes,
		streamCount: streamCount,
		breakers:    breakers,
		retryer:     retryer,
		metrics:     collector,
	}
}

// ExecuteRemotePush drives execute_remote_push: src is enumerated
// locally and streamed to ep as a manifest; ep's daemon classifies what
// it needs and the client sends only those bytes.
func (r *Remote) ExecuteRemotePush(ctx context.Context, src types.Locator, ep Endpoint, mode types.Mode, opts types.PlanOptions) (types.Summary, error) {
	var summary types.Summary
	err := r.withBreaker(ctx, ep, func(ctx context.Context) error {
		s, err := r.doPush(ctx, src, ep, mode, opts)
		summary = s
		return err
	})
	r.recordOutcome("push", summary, err)
	return summary, err
}

func (r *Remote) doPush(ctx context.Context, src types.Locator, ep Endpoint, mode types.Mode, opts types.PlanOptions) (types.Summary, error) {
	nc, err := (&net.Dialer{}).DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return types.Summary{}, wrapRemote(errors.ErrCodeConnectionFailed, "dial_control", err)
	}
	defer nc.Close()
	cc := control.NewClient(nc)

	header := control.Header{
		Module:              ep.Module,
		Mode:                mode,
		DestPath:            ep.SubPath,
		Direction:           control.DirectionPush,
		SkipUnchanged:       opts.SkipUnchanged,
		Checksum:            opts.Checksum,
		Delete:              opts.Delete,
		CaseInsensitiveDest: opts.CaseInsensitiveDest,
	}
	if err := cc.SendHeader(ctx, header); err != nil {
		return types.Summary{}, err
	}
	if err := cc.RecvAck(ctx); err != nil {
		return types.Summary{}, err
	}

	srcByPath := make(map[string]types.FileRecord)
	enumErr := r.enumerator.Enumerate(ctx, string(src), func(rec types.FileRecord) error {
		srcByPath[rec.Path] = rec
		return cc.SendFileHeader(ctx, rec)
	})
	if enumErr != nil {
		return types.Summary{}, wrapRemote(errors.ErrCodeEnumerateFailed, "enumerate_push_src", enumErr)
	}
	if err := cc.SendManifestComplete(ctx); err != nil {
		return types.Summary{}, err
	}

	var needed []types.FileRecord
	for {
		batch, err := cc.RecvNeedListBatch(ctx)
		if err != nil {
			return types.Summary{}, err
		}
		needed = append(needed, batch.Entries...)
		if batch.Final {
			break
		}
	}

	negotiation, err := cc.RecvNegotiation(ctx)
	if err != nil {
		return types.Summary{}, err
	}

	entries := make([]types.TransferEntry, 0, len(needed))
	for _, rec := range needed {
		if rec.Kind != types.KindRegular {
			// Directories and symlinks need no payload bytes; the
			// receiver's own path joining creates any destination
			// directory a regular file under it requires.
			continue
		}
		srcRec, ok := srcByPath[rec.Path]
		if !ok {
			continue
		}
		entries = append(entries, types.TransferEntry{
			Record: srcRec,
			Src:    types.Locator(filepath.Join(string(src), rec.Path)),
			Dst:    types.Locator(rec.Path),
		})
	}
	open := func(l types.Locator) (io.ReadCloser, error) { return os.Open(string(l)) }

	if err := r.sendEntries(ctx, negotiation, entries, open); err != nil {
		return types.Summary{}, err
	}

	summary, err := cc.RecvSummary(ctx)
	if err != nil {
		return types.Summary{}, err
	}

	if mode == types.ModeMove && !summary.HasFailures() {
		for _, e := range entries {
			_ = os.Remove(string(e.Src))
		}
	}
	return summary, nil
}

// sendEntries moves entries over negotiation's data plane, falling back
// to the gRPC service when the server forced it (the TCP endpoint is
// presumed unreachable or diagnostics requested it). The TCP data-plane
// attempt (dial plus Send) is the only step wrapped in the retryer, and
// a retry sends every entry again: the control plane above has
// already fully negotiated and fails fast on its own errors.
func (r *Remote) sendEntries(ctx context.Context, negotiation types.NegotiatedSession, entries []types.TransferEntry, open data.OpenFunc) error {
	if negotiation.ForcedGRPC {
		return r.sendEntriesGRPC(ctx, negotiation, entries, open)
	}

	attempt := func(ctx context.Context) error {
		sender, err := data.DialSender(ctx, negotiation, r.pool, r.chunkBytes)
		if err != nil {
			return err
		}
		defer sender.Close()
		if r.metrics != nil {
			r.metrics.UpdateActiveStreams(negotiation.StreamCount)
			defer r.metrics.UpdateActiveStreams(0)
		}
		return sender.Send(ctx, entries, open)
	}
	if r.retryer != nil {
		return r.retryer.DoWithContext(ctx, attempt)
	}
	return attempt(ctx)
}

func (r *Remote) sendEntriesGRPC(ctx context.Context, negotiation types.NegotiatedSession, entries []types.TransferEntry, open data.OpenFunc) error {
	cc, err := grpc.NewClient(negotiation.TCPEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return wrapRemote(errors.ErrCodeConnectionFailed, "dial_grpc_fallback", err)
	}
	defer cc.Close()

	client, err := data.NewFallbackClient(ctx, cc)
	if err != nil {
		return err
	}
	for _, e := range entries {
		rc, err := open(e.Src)
		if err != nil {
			return wrapRemote(errors.ErrCodeCopyFailed, "open_fallback_entry", err)
		}
		err = client.SendFile(e.Record, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// ExecuteRemotePull drives execute_remote_pull: ep's daemon enumerates
// its own module tree and streams the manifest; the client classifies
// what it needs against its own local enumeration and becomes the data
// plane's receiver.
func (r *Remote) ExecuteRemotePull(ctx context.Context, ep Endpoint, dst types.Locator, mode types.Mode, opts types.PlanOptions, planner types.MirrorPlanner) (types.Summary, error) {
	var summary types.Summary
	err := r.withBreaker(ctx, ep, func(ctx context.Context) error {
		s, err := r.doPull(ctx, ep, dst, mode, opts, planner)
		summary = s
		return err
	})
	r.recordOutcome("pull", summary, err)
	return summary, err
}

func (r *Remote) doPull(ctx context.Context, ep Endpoint, dst types.Locator, mode types.Mode, opts types.PlanOptions, planner types.MirrorPlanner) (types.Summary, error) {
	nc, err := (&net.Dialer{}).DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return types.Summary{}, wrapRemote(errors.ErrCodeConnectionFailed, "dial_control", err)
	}
	defer nc.Close()
	cc := control.NewClient(nc)

	header := control.Header{
		Module:              ep.Module,
		Mode:                mode,
		DestPath:            ep.SubPath,
		Direction:           control.DirectionPull,
		SkipUnchanged:       opts.SkipUnchanged,
		Checksum:            opts.Checksum,
		Delete:              opts.Delete,
		CaseInsensitiveDest: opts.CaseInsensitiveDest,
	}
	if err := cc.SendHeader(ctx, header); err != nil {
		return types.Summary{}, err
	}
	if err := cc.RecvAck(ctx); err != nil {
		return types.Summary{}, err
	}

	var remoteManifest []types.FileRecord
	for {
		rec, done, err := cc.RecvFileHeader(ctx)
		if err != nil {
			return types.Summary{}, err
		}
		if done {
			break
		}
		remoteManifest = append(remoteManifest, rec)
	}

	var localManifest []types.FileRecord
	if enumErr := r.enumerator.Enumerate(ctx, string(dst), func(rec types.FileRecord) error {
		localManifest = append(localManifest, rec)
		return nil
	}); enumErr != nil {
		return types.Summary{}, wrapRemote(errors.ErrCodeEnumerateFailed, "enumerate_pull_dst", enumErr)
	}

	planOpts := opts
	planOpts.SrcRoot = types.Locator(ep.String())
	planOpts.DstRoot = dst
	plan, err := planner.Plan(ctx, remoteManifest, localManifest, planOpts)
	if err != nil {
		return types.Summary{}, wrapRemote(errors.ErrCodePlanFailed, "plan_pull", err)
	}

	if err := sendNeedListBatches(ctx, cc, plan.ToCopy); err != nil {
		return types.Summary{}, err
	}

	negotiation, err := cc.RecvNegotiation(ctx)
	if err != nil {
		return types.Summary{}, err
	}

	if err := r.recvEntries(ctx, negotiation, dst); err != nil {
		return types.Summary{}, err
	}

	summary, err := cc.RecvSummary(ctx)
	if err != nil {
		return types.Summary{}, err
	}

	if mode == types.ModeMirror && opts.Delete {
		for _, p := range plan.ToDelete {
			_ = os.Remove(filepath.Join(string(dst), string(p)))
		}
	}
	return summary, nil
}

func sendNeedListBatches(ctx context.Context, cc *control.Client, toCopy []types.TransferEntry) error {
	if len(toCopy) == 0 {
		return cc.SendNeedListBatch(ctx, control.NeedListBatch{Final: true})
	}
	for i := 0; i < len(toCopy); i += needListBatchMaxEntries {
		end := i + needListBatchMaxEntries
		if end > len(toCopy) {
			end = len(toCopy)
		}
		recs := make([]types.FileRecord, end-i)
		for j := i; j < end; j++ {
			recs[j-i] = toCopy[j].Record
		}
		if err := cc.SendNeedListBatch(ctx, control.NeedListBatch{Entries: recs, Final: end == len(toCopy)}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Remote) recvEntries(ctx context.Context, negotiation types.NegotiatedSession, dst types.Locator) error {
	if negotiation.ForcedGRPC {
		return wrapRemote(errors.ErrCodeNegotiationFailed, "recv_grpc_fallback", errPullFallbackUnsupported)
	}
	attempt := func(ctx context.Context) error {
		receiver, err := data.DialReceiver(ctx, negotiation, dst, 0)
		if err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.UpdateActiveStreams(negotiation.StreamCount)
			defer r.metrics.UpdateActiveStreams(0)
		}
		return receiver.Wait()
	}
	if r.retryer != nil {
		return r.retryer.DoWithContext(ctx, attempt)
	}
	return attempt(ctx)
}

// errPullFallbackUnsupported documents a known gap: the gRPC fallback
// client only drives the Push direction's send path today. Forcing gRPC
// on a Pull negotiates correctly but cannot yet move bytes; see
// DESIGN.md.
var errPullFallbackUnsupported = fmt.Errorf("remote: gRPC fallback does not yet support the pull direction")

// ExecuteRemoteRemote drives execute_remote_remote by relaying through a
// local staging directory: pull srcEp into staging, then push staging to
// dstEp. This is a deliberate simplification of a direct daemon-to-daemon
// relay (see DESIGN.md). The pull leg always runs as a mirror, so no
// file at srcEp is deleted in any mode; for ModeMove, the local staging
// directory is removed once both legs report a failure-free summary.
func (r *Remote) ExecuteRemoteRemote(ctx context.Context, srcEp, dstEp Endpoint, mode types.Mode, opts types.PlanOptions, planner types.MirrorPlanner, stagingDir string) (types.Summary, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return types.Summary{}, wrapRemote(errors.ErrCodeCopyFailed, "mkdir_staging", err)
	}

	pullSummary, err := r.ExecuteRemotePull(ctx, srcEp, types.Locator(stagingDir), types.ModeMirror, opts, planner)
	if err != nil {
		return types.Summary{}, err
	}

	pushSummary, err := r.ExecuteRemotePush(ctx, types.Locator(stagingDir), dstEp, mode, opts)
	if err != nil {
		return pullSummary, err
	}

	combined := types.Summary{
		FilesTransferred: pullSummary.FilesTransferred + pushSummary.FilesTransferred,
		BytesTransferred: pullSummary.BytesTransferred + pushSummary.BytesTransferred,
		BytesZeroCopied:  pullSummary.BytesZeroCopied + pushSummary.BytesZeroCopied,
		EntriesDeleted:   pushSummary.EntriesDeleted,
		FallbackUsed:     pullSummary.FallbackUsed || pushSummary.FallbackUsed,
		FastPath:         "remote_remote_staged",
		Cancelled:        pullSummary.Cancelled || pushSummary.Cancelled,
	}
	combined.FailedFiles = append(append([]types.FailedFile{}, pullSummary.FailedFiles...), pushSummary.FailedFiles...)

	if mode == types.ModeMove && !combined.HasFailures() {
		_ = os.RemoveAll(stagingDir)
	}
	return combined, nil
}

func (r *Remote) withBreaker(ctx context.Context, ep Endpoint, fn func(context.Context) error) error {
	if r.breakers == nil {
		return fn(ctx)
	}
	breaker := r.breakers.GetBreaker(ep.Host + "/" + ep.Module)
	return breaker.ExecuteWithContext(ctx, fn)
}

func (r *Remote) recordOutcome(verb string, summary types.Summary, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordTransfer(verb, 0, int64(summary.BytesTransferred), err == nil)
	if summary.BytesZeroCopied > 0 {
		r.metrics.RecordZeroCopy(verb, int64(summary.BytesZeroCopied))
	}
	if err != nil {
		r.metrics.RecordError(verb, err)
	}
}

func newSessionToken() ([]byte, error) {
	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		return nil, wrapRemote(errors.ErrCodeInternalError, "generate_session_token", err)
	}
	return token, nil
}

func wrapRemote(code errors.ErrorCode, op string, err error) error {
	return errors.NewError(code, "remote transfer failed").
		WithComponent("remote").WithOperation(op).WithCause(err)
}
