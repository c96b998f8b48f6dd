package blit

import (
	"context"
	"testing"

	"github.com/roethlar/blit/internal/remote"
	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

type fakeHistory struct {
	recs []types.PerfRecord
	err  error
}

func (f *fakeHistory) Append(types.PerfRecord) error { return nil }
func (f *fakeHistory) Recent(types.ProfileKey, int) ([]types.PerfRecord, error) {
	return f.recs, f.err
}

type fakePredictor struct{ predicted float64 }

func (f *fakePredictor) Predict(types.ProfileKey, uint64, uint64) float64 { return f.predicted }
func (f *fakePredictor) Observe(types.ProfileKey, uint64, uint64, float64) {}

func TestExecute_LocalBothSidesWithoutOrchestratorFails(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	_, err := b.Copy(context.Background(), LocalPath("/a"), LocalPath("/b"), types.PlanOptions{})
	if err == nil {
		t.Fatal("expected an error with no orchestrator configured")
	}
	var be *errors.BlitError
	if !errorsAs(err, &be) {
		t.Fatalf("error = %v, want a *errors.BlitError", err)
	}
	if be.Code != errors.ErrCodeNotInitialized {
		t.Errorf("Code = %v, want %v", be.Code, errors.ErrCodeNotInitialized)
	}
}

func TestExecute_RemoteSideWithoutRemoteClientFails(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	dst := RemoteEndpoint(remote.Endpoint{Host: "backup01", Module: "data"})
	_, err := b.Mirror(context.Background(), LocalPath("/a"), dst, types.PlanOptions{})
	if err == nil {
		t.Fatal("expected an error with no remote client configured")
	}
}

func TestTarget_IsRemote(t *testing.T) {
	t.Parallel()

	local := LocalPath("/a/b")
	if local.isRemote() {
		t.Error("LocalPath target reported isRemote() = true")
	}
	remoteTarget := RemoteEndpoint(remote.Endpoint{Host: "h"})
	if !remoteTarget.isRemote() {
		t.Error("RemoteEndpoint target reported isRemote() = false")
	}
}

func TestDiagnosticsPerf_ReportsHistoryAndPrediction(t *testing.T) {
	t.Parallel()

	key := types.ProfileKey{SrcFSClass: "local", DstFSClass: "local"}
	wantRecs := []types.PerfRecord{{Files: 3, Bytes: 1024}}
	b := New(Config{
		History:   &fakeHistory{recs: wantRecs},
		Predictor: &fakePredictor{predicted: 42.5},
	})

	diag, err := b.DiagnosticsPerf(key, 3, 1024, 10)
	if err != nil {
		t.Fatalf("DiagnosticsPerf: %v", err)
	}
	if len(diag.Recent) != 1 || diag.Recent[0].Files != 3 {
		t.Errorf("Recent = %+v", diag.Recent)
	}
	if diag.Predicted != 42.5 {
		t.Errorf("Predicted = %v, want 42.5", diag.Predicted)
	}
}

func TestDiagnosticsPerf_NilCollaboratorsReturnZeroValue(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	diag, err := b.DiagnosticsPerf(types.ProfileKey{}, 0, 0, 10)
	if err != nil {
		t.Fatalf("DiagnosticsPerf: %v", err)
	}
	if diag.Recent != nil || diag.Predicted != 0 {
		t.Errorf("diag = %+v, want zero value", diag)
	}
}

// errorsAs is a tiny local shim so this file doesn't need to import
// errors.As from the standard library just for one assertion on a
// concrete *errors.BlitError.
func errorsAs(err error, target **errors.BlitError) bool {
	be, ok := err.(*errors.BlitError)
	if !ok {
		return false
	}
	*target = be
	return true
}
