package scan

import (
	"sync"
	"time"
)

// RunPhase describes where a registration run currently is
type RunPhase string

const (
	PhaseIdle       RunPhase = "idle"
	PhaseCapturing  RunPhase = "capturing"
	PhasePreparing  RunPhase = "preparing"
	PhaseProcessing RunPhase = "processing"
	PhaseCorrecting RunPhase = "correcting"
	PhaseDone       RunPhase = "done"
	PhaseFailed     RunPhase = "failed"
)

// RunStatus is a snapshot of the pipeline's progress for HTTP endpoints
type RunStatus struct {
	Phase          RunPhase  `json:"phase"`
	LoopsTotal     int       `json:"loopsTotal"`
	LoopsDone      int       `json:"loopsDone"`
	FramesCaptured int       `json:"framesCaptured"`
	LastError      string    `json:"lastError,omitempty"`
	StartedAt      time.Time `json:"startedAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// StateTracker tracks live capture and registration state for HTTP
// endpoints
type StateTracker struct {
	mu       sync.RWMutex
	status   RunStatus
	frames   map[string]int // scanner ID -> frames captured this session
	chain    *PoseChain
	chainFor string
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{
		status: RunStatus{Phase: PhaseIdle, UpdatedAt: time.Now()},
		frames: make(map[string]int),
	}
}

// StartRun marks the beginning of a registration run
func (st *StateTracker) StartRun(loopsTotal int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	st.status = RunStatus{
		Phase:      PhasePreparing,
		LoopsTotal: loopsTotal,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

// SetPhase updates the current run phase
func (st *StateTracker) SetPhase(phase RunPhase) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Phase = phase
	st.status.UpdatedAt = time.Now()
}

// LoopDone increments the completed loop counter
func (st *StateTracker) LoopDone() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.LoopsDone++
	st.status.UpdatedAt = time.Now()
}

// SetError records a run failure
func (st *StateTracker) SetError(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Phase = PhaseFailed
	if err != nil {
		st.status.LastError = err.Error()
	}
	st.status.UpdatedAt = time.Now()
}

// FrameCaptured records an incoming frame from a scanner
func (st *StateTracker) FrameCaptured(scannerID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.frames[scannerID]++
	st.status.FramesCaptured++
	st.status.UpdatedAt = time.Now()
}

// ResetCapture clears per-session frame counters
func (st *StateTracker) ResetCapture() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.frames = make(map[string]int)
	st.status.FramesCaptured = 0
	st.status.UpdatedAt = time.Now()
}

// GetStatus returns a copy of the current run status
func (st *StateTracker) GetStatus() RunStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.status
}

// GetFrameCounts returns per-scanner frame counts for this session
func (st *StateTracker) GetFrameCounts() map[string]int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string]int, len(st.frames))
	for k, v := range st.frames {
		result[k] = v
	}
	return result
}

// SetChain stores the completed pose chain for a scanner
func (st *StateTracker) SetChain(scannerID string, chain *PoseChain) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.chain = chain
	st.chainFor = scannerID
	st.status.Phase = PhaseDone
	st.status.UpdatedAt = time.Now()
}

// GetChain returns the latest completed pose chain, or nil if no run
// has finished
func (st *StateTracker) GetChain() (string, *PoseChain) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.chainFor, st.chain
}
