package models

// CameraConfig describes one capture source. Source is a device index
// ("0"), a device path, a file path or a network URL.
type CameraConfig struct {
	Name      string  `json:"name" db:"name"`
	Source    string  `json:"source" db:"source"`
	Threshold float64 `json:"threshold" db:"threshold"`
}

type WorkerState string

const (
	WorkerInitializing WorkerState = "initializing"
	WorkerRunning      WorkerState = "running"
	WorkerDraining     WorkerState = "draining"
	WorkerStopped      WorkerState = "stopped"
	WorkerFailed       WorkerState = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s WorkerState) Terminal() bool {
	return s == WorkerStopped || s == WorkerFailed
}
