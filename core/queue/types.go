package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultQueueName is the default queue name used when no queue is specified
const DefaultQueueName = "default"

// NoResultType is the type discriminator of an empty execution result.
const NoResultType = "none"

// Job is a payload tagged with a stable type discriminator.
// The type is used to resolve the handler that executes the job.
type Job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewJob builds a Job from any JSON-serializable payload.
// The job type is derived from the payload's Go type (e.g., "main.EmailPayload").
func NewJob(payload any) (Job, error) {
	if payload == nil {
		return Job{}, ErrPayloadNil
	}
	if job, ok := payload.(Job); ok {
		return job, nil
	}
	return NewNamedJob(qualifiedStructName(payload), payload)
}

// NewNamedJob builds a Job with an explicit type discriminator.
func NewNamedJob(jobType string, payload any) (Job, error) {
	if jobType == "" {
		return Job{}, ErrEmptyJobType
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}
	return Job{Type: jobType, Payload: data}, nil
}

// Equal reports whether two jobs carry the same type and payload bytes.
func (j Job) Equal(other Job) bool {
	return j.Type == other.Type && string(j.Payload) == string(other.Payload)
}

// Result is the tagged outcome (or progress snapshot) of an execution.
type Result struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NoResult returns the "no result" sentinel.
func NoResult() Result {
	return Result{Type: NoResultType}
}

// NewResult builds a Result from any JSON-serializable value.
func NewResult(v any) (Result, error) {
	if v == nil {
		return NoResult(), nil
	}
	if r, ok := v.(Result); ok {
		return r, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal result of type %T: %w", v, err)
	}
	return Result{Type: qualifiedStructName(v), Payload: data}, nil
}

// IsEmpty reports whether the result is the "no result" sentinel.
func (r Result) IsEmpty() bool {
	return r.Type == "" || r.Type == NoResultType
}

// Execution is the envelope stored for every enqueued job.
// Its identity is ID, assigned by the store on enqueue.
type Execution struct {
	ID     int64  `json:"id"`
	Job    Job    `json:"job"`
	Result Result `json:"result"`
}

// Equal compares executions by identity and job.
func (e *Execution) Equal(other *Execution) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ID == other.ID && e.Job.Equal(other.Job)
}

// decodeEnvelope parses an execution envelope. Channel-delivered envelopes carry id 0.
func decodeEnvelope(data []byte) (*Execution, error) {
	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodableExecution, err)
	}
	if exec.Job.Type == "" {
		return nil, fmt.Errorf("%w: missing job type", ErrUndecodableExecution)
	}
	if exec.Result.Type == "" {
		exec.Result = NoResult()
	}
	return &exec, nil
}

// decodeExecution parses a stored execution, which always has a store-assigned id.
func decodeExecution(data []byte) (*Execution, error) {
	exec, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if exec.ID <= 0 {
		return nil, fmt.Errorf("%w: missing id", ErrUndecodableExecution)
	}
	return exec, nil
}

// WorkerStatus is a state of the worker lifecycle.
type WorkerStatus string

const (
	WorkerRunning  WorkerStatus = "RUNNING"
	WorkerPaused   WorkerStatus = "PAUSED"
	WorkerStopping WorkerStatus = "STOPPING"
	WorkerStopped  WorkerStatus = "STOPPED"
	WorkerFailed   WorkerStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s WorkerStatus) Terminal() bool {
	return s == WorkerStopped || s == WorkerFailed
}

// WorkerState is the persisted snapshot of a worker.
type WorkerState struct {
	Status       WorkerStatus `json:"state"`
	Queues       []string     `json:"queues,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	SuccessCount int64        `json:"success_count"`
	FailedCount  int64        `json:"failed_count"`
}
