package history

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roethlar/blit/pkg/types"
)

// predictorStateVersion is bumped whenever PredictorCoefficients' shape
// changes incompatibly. A mismatch on load resets to fresh defaults rather
// than risk decoding garbage into the gradient-descent loop.
const predictorStateVersion = 1

// learningRate scales each gradient-descent step; small enough that one
// noisy observation doesn't swing a profile's coefficients wildly.
const learningRate = 5e-4

// defaultCoefficients seeds a profile key with no prior history. A modest
// per-file and per-byte cost keeps early predictions in a plausible range
// until real observations correct them.
var defaultCoefficients = types.PredictorCoefficients{Alpha: 0.05, Beta: 1e-6, Gamma: 5}

// Predictor implements types.Predictor with a per-profile linear model
// planning_ms ≈ Alpha*files + Beta*bytes + Gamma, updated by small-step
// gradient descent as new observations arrive.
type Predictor struct {
	mu    sync.Mutex
	path  string
	state types.PredictorState
}

// NewPredictor loads persisted coefficients from path, if present, and
// resets to fresh state on a version mismatch or a corrupt file.
func NewPredictor(path string) *Predictor {
	p := &Predictor{
		path:  path,
		state: types.PredictorState{Version: predictorStateVersion, Coefficients: map[string]types.PredictorCoefficients{}},
	}
	p.load()
	return p
}

func (p *Predictor) load() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return // no prior state; start fresh
	}
	var loaded types.PredictorState
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Default().Warn("predictor state corrupt, resetting", "component", "history", "path", p.path, "error", err)
		return
	}
	if loaded.Version != predictorStateVersion {
		slog.Default().Warn("predictor state version mismatch, resetting", "component", "history", "path", p.path, "got", loaded.Version, "want", predictorStateVersion)
		return
	}
	if loaded.Coefficients == nil {
		loaded.Coefficients = map[string]types.PredictorCoefficients{}
	}
	p.state = loaded
}

// Predict estimates planning_ms for key given a workload of fileCount
// entries totaling totalBytes. A profile with no prior observations uses
// defaultCoefficients.
func (p *Predictor) Predict(key types.ProfileKey, fileCount, totalBytes uint64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.state.Coefficients[key.String()]
	if !ok {
		c = defaultCoefficients
	}
	return predict(c, fileCount, totalBytes)
}

func predict(c types.PredictorCoefficients, fileCount, totalBytes uint64) float64 {
	return c.Alpha*float64(fileCount) + c.Beta*float64(totalBytes) + c.Gamma
}

// Observe folds one actual planning duration back into key's coefficients
// via a single gradient-descent step on squared error, then persists the
// updated state.
func (p *Predictor) Observe(key types.ProfileKey, fileCount, totalBytes uint64, actualMs float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key.String()
	c, ok := p.state.Coefficients[k]
	if !ok {
		c = defaultCoefficients
	}

	predicted := predict(c, fileCount, totalBytes)
	errTerm := predicted - actualMs // d(0.5*err^2)/d(predicted)

	c.Alpha -= learningRate * errTerm * float64(fileCount)
	c.Beta -= learningRate * errTerm * float64(totalBytes)
	c.Gamma -= learningRate * errTerm

	if p.state.Coefficients == nil {
		p.state.Coefficients = map[string]types.PredictorCoefficients{}
	}
	p.state.Coefficients[k] = c
	p.state.Version = predictorStateVersion

	if err := p.persist(); err != nil {
		slog.Default().Warn("failed to persist predictor state", "component", "history", "path", p.path, "error", err)
	}
}

func (p *Predictor) persist() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(p.state)
	if err != nil {
		return err
	}
	tmpPath := p.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, p.path)
}

var _ types.Predictor = (*Predictor)(nil)
