package remote

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/roethlar/blit/internal/buffer"
	"github.com/roethlar/blit/internal/metrics"
	"github.com/roethlar/blit/internal/transport/control"
	"github.com/roethlar/blit/internal/transport/data"
	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/status"
	"github.com/roethlar/blit/pkg/types"
	"github.com/roethlar/blit/pkg/utils"
)

// debugSessionDaemon is the fixed debug-session id a running daemon
// traces control-plane sessions under, when debug tracing has been
// enabled for the process (see cmd/blitd's --debug-session flag). When
// no session by this name exists, utils.StartTrace is a no-op, so these
// trace points cost nothing when tracing is off.
const debugSessionDaemon = "daemon"

// Daemon serves the accepting side of a control-plane session for every
// module it's configured with, dispatching to the Push or Pull handler
// named by the client's header. Each negotiated session gets its own
// short-lived data-plane listener rather than multiplexing one shared
// port across sessions, trading a fixed daemon data port for a simpler,
// self-contained accept loop per transfer (see DESIGN.md).
type Daemon struct {
	moduleRoots map[string]types.Locator
	enumerator  types.Enumerator
	planner     types.MirrorPlanner
	pool        *buffer.Pool
	chunkBytes  int
	streamCount int
	forceGRPC   bool
	metrics     *metrics.Collector
	status      *status.Tracker
}

// NewDaemon builds a Daemon serving moduleRoots. collector may be nil to
// disable metrics recording. forceGRPC is the daemon's own diagnostic
// override (set when it was started with the force-gRPC flag); it is ORed
// with each client's own requested header.ForceGRPC rather than
// replacing it. statusTracker may be nil to disable per-session
// operation tracking (StartOperation/CompleteOperation/FailOperation);
// when set, every accepted control-plane session is tracked the same
// way the status API reports CLI-visible operations.
func NewDaemon(moduleRoots map[string]types.Locator, enumerator types.Enumerator, planner types.MirrorPlanner, pool *buffer.Pool, chunkBytes, streamCount int, forceGRPC bool, collector *metrics.Collector, statusTracker *status.Tracker) *Daemon {
	if chunkBytes <= 0 {
		chunkBytes = 1 << 20
	}
	if streamCount <= 0 {
		streamCount = defaultStreamCount
	}
	return &Daemon{
		moduleRoots: moduleRoots,
		enumerator:  enumerator,
		planner:     planner,
		pool:        pool,
		chunkBytes:  chunkBytes,
		streamCount: streamCount,
		forceGRPC:   forceGRPC,
		metrics:     collector,
		status:      statusTracker,
	}
}

// ServeControl runs one accepted control-plane connection to completion.
// Callers typically spawn one goroutine per accepted connection from
// their own net.Listener.
func (d *Daemon) ServeControl(ctx context.Context, nc net.Conn) error {
	defer nc.Close()
	sc := control.NewServer(nc)

	header, err := sc.RecvHeader(ctx)
	if err != nil {
		return err
	}
	root, ok := d.moduleRoots[header.Module]
	if !ok {
		return wrapRemote(errors.ErrCodeNotInitialized, "resolve_module", unknownModuleError(header.Module))
	}
	if header.DestPath != "" {
		root = types.Locator(filepath.Join(string(root), header.DestPath))
	}
	if err := sc.SendAck(ctx); err != nil {
		return err
	}

	opType := "push"
	if header.Direction == control.DirectionPull {
		opType = "pull"
	}
	var op *status.Operation
	if d.status != nil {
		op, ctx = d.status.StartOperation(ctx, opType, map[string]interface{}{
			"module": header.Module,
			"dest":   header.DestPath,
		})
	}

	var serveErr error
	switch header.Direction {
	case control.DirectionPull:
		trace := utils.StartTrace(debugSessionDaemon, "control_plane", "pull", map[string]interface{}{"module": header.Module})
		serveErr = d.handlePull(ctx, sc, root, header)
		if serveErr != nil {
			trace.EndWithError(serveErr)
		} else {
			trace.End("session completed")
		}
	default:
		trace := utils.StartTrace(debugSessionDaemon, "control_plane", "push", map[string]interface{}{"module": header.Module})
		serveErr = d.handlePush(ctx, sc, root, header)
		if serveErr != nil {
			trace.EndWithError(serveErr)
		} else {
			trace.End("session completed")
		}
	}

	if op != nil {
		if serveErr != nil {
			_ = d.status.FailOperation(op.ID, serveErr)
		} else {
			_ = d.status.CompleteOperation(op.ID)
		}
	}

	return serveErr
}

// handlePush receives the client's streamed manifest, classifies it
// against this module's own tree, streams back the NeedList, and
// receives the negotiated payload bytes.
func (d *Daemon) handlePush(ctx context.Context, sc *control.Server, root types.Locator, header control.Header) error {
	var clientManifest []types.FileRecord
	for {
		rec, done, err := sc.RecvFileHeader(ctx)
		if err != nil {
			return err
		}
		if done {
			break
		}
		clientManifest = append(clientManifest, rec)
	}

	var localManifest []types.FileRecord
	if err := d.enumerator.Enumerate(ctx, string(root), func(rec types.FileRecord) error {
		localManifest = append(localManifest, rec)
		return nil
	}); err != nil {
		return wrapRemote(errors.ErrCodeEnumerateFailed, "enumerate_push_dest", err)
	}

	opts := types.PlanOptions{
		SkipUnchanged:       header.SkipUnchanged,
		Checksum:            header.Checksum,
		Delete:              header.Delete,
		CaseInsensitiveDest: header.CaseInsensitiveDest,
		DstRoot:             root,
	}
	plan, err := d.planner.Plan(ctx, clientManifest, localManifest, opts)
	if err != nil {
		return wrapRemote(errors.ErrCodePlanFailed, "plan_push", err)
	}

	needed := make([]types.FileRecord, len(plan.ToCopy))
	for i, e := range plan.ToCopy {
		needed[i] = e.Record
	}
	if err := sendNeedListRecords(ctx, sc, needed); err != nil {
		return err
	}

	token, err := newSessionToken()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return wrapRemote(errors.ErrCodeConnectionFailed, "listen_data_plane", err)
	}
	defer ln.Close()

	session := types.NegotiatedSession{
		TCPEndpoint: ln.Addr().String(),
		Token:       token,
		StreamCount: d.streamCount,
		ForcedGRPC:  header.ForceGRPC || d.forceGRPC,
		ExpiresAt:   time.Now().Add(sessionTTL),
	}
	if err := sc.SendNegotiation(ctx, session); err != nil {
		return err
	}

	receiver := data.NewReceiver(root, token, 0)
	if err := acceptReceiverConns(ctx, ln, receiver, session.StreamCount); err != nil {
		return err
	}
	if err := receiver.Wait(); err != nil {
		return err
	}

	if header.Mode == types.ModeMirror && header.Delete {
		for _, p := range plan.ToDelete {
			_ = os.Remove(filepath.Join(string(root), string(p)))
		}
	}

	summary := summaryFromPlan(plan, header)
	return sc.SendSummary(ctx, summary)
}

// handlePull enumerates this module's own tree, streams it to the
// client as the manifest, receives the client's NeedList, and becomes
// the data plane's sender.
func (d *Daemon) handlePull(ctx context.Context, sc *control.Server, root types.Locator, header control.Header) error {
	var srcByPath = make(map[string]types.FileRecord)
	if err := d.enumerator.Enumerate(ctx, string(root), func(rec types.FileRecord) error {
		srcByPath[rec.Path] = rec
		return sc.SendFileHeader(ctx, rec)
	}); err != nil {
		return wrapRemote(errors.ErrCodeEnumerateFailed, "enumerate_pull_src", err)
	}
	if err := sc.SendManifestComplete(ctx); err != nil {
		return err
	}

	var needed []types.FileRecord
	for {
		batch, err := sc.RecvNeedListBatch(ctx)
		if err != nil {
			return err
		}
		needed = append(needed, batch.Entries...)
		if batch.Final {
			break
		}
	}

	token, err := newSessionToken()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return wrapRemote(errors.ErrCodeConnectionFailed, "listen_data_plane", err)
	}
	defer ln.Close()

	session := types.NegotiatedSession{
		TCPEndpoint: ln.Addr().String(),
		Token:       token,
		StreamCount: d.streamCount,
		ForcedGRPC:  header.ForceGRPC || d.forceGRPC,
		ExpiresAt:   time.Now().Add(sessionTTL),
	}
	if err := sc.SendNegotiation(ctx, session); err != nil {
		return err
	}

	entries := make([]types.TransferEntry, 0, len(needed))
	for _, rec := range needed {
		if rec.Kind != types.KindRegular {
			// Directories and symlinks carry no payload bytes; the
			// puller's destination path joining creates any directory a
			// regular file under it requires.
			continue
		}
		srcRec, ok := srcByPath[rec.Path]
		if !ok {
			continue
		}
		entries = append(entries, types.TransferEntry{
			Record: srcRec,
			Src:    types.Locator(filepath.Join(string(root), rec.Path)),
			Dst:    types.Locator(rec.Path),
		})
	}
	open := func(l types.Locator) (io.ReadCloser, error) { return os.Open(string(l)) }

	sender, err := data.AcceptSender(ctx, ln, token, session.StreamCount, d.pool, d.chunkBytes)
	if err != nil {
		return err
	}
	defer sender.Close()
	if err := sender.Send(ctx, entries, open); err != nil {
		return err
	}

	// A Pull move deletes the source's own files once every entry has
	// gone out over the data plane without a transport error. This
	// gates on the send completing cleanly, not on a client-confirmed
	// end-to-end integrity summary (see DESIGN.md).
	if header.Mode == types.ModeMove {
		for _, e := range entries {
			_ = os.Remove(string(e.Src))
		}
	}

	summary := types.Summary{
		FilesTransferred: uint64(len(entries)),
	}
	for _, e := range entries {
		summary.BytesTransferred += e.Record.Size
	}
	return sc.SendSummary(ctx, summary)
}

func acceptReceiverConns(ctx context.Context, ln net.Listener, receiver *data.Receiver, streamCount int) error {
	errs := make(chan error, streamCount)
	for i := 0; i < streamCount; i++ {
		nc, err := ln.Accept()
		if err != nil {
			return wrapRemote(errors.ErrCodeConnectionFailed, "accept_data_conn", err)
		}
		go func() { errs <- receiver.ServeConn(ctx, nc) }()
	}
	for i := 0; i < streamCount; i++ {
		if err := <-errs; err != nil {
			return err
		}
	}
	return nil
}

func sendNeedListRecords(ctx context.Context, sc *control.Server, recs []types.FileRecord) error {
	if len(recs) == 0 {
		return sc.SendNeedListBatch(ctx, control.NeedListBatch{Final: true})
	}
	for i := 0; i < len(recs); i += needListBatchMaxEntries {
		end := i + needListBatchMaxEntries
		if end > len(recs) {
			end = len(recs)
		}
		if err := sc.SendNeedListBatch(ctx, control.NeedListBatch{Entries: recs[i:end], Final: end == len(recs)}); err != nil {
			return err
		}
	}
	return nil
}

func summaryFromPlan(plan types.MirrorPlan, header control.Header) types.Summary {
	var bytesTotal uint64
	for _, e := range plan.ToCopy {
		bytesTotal += e.Record.Size
	}
	return types.Summary{
		FilesTransferred: uint64(len(plan.ToCopy)),
		BytesTransferred: bytesTotal,
		EntriesDeleted:   uint64(len(plan.ToDelete)),
	}
}

type moduleError string

func (e moduleError) Error() string { return string(e) }

func unknownModuleError(module string) error {
	return moduleError("remote: unknown module " + module)
}
