package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunError       Stage = "RUN_ERROR"
	StagePageStart      Stage = "PAGE_START"
	StagePageDone       Stage = "PAGE_DONE"
	StagePageExhausted  Stage = "PAGE_EXHAUSTED"
	StageRecord         Stage = "RECORD"
	StageSessionRestart Stage = "SESSION_RESTART"
)

// Event captures a single milestone of crawler progress.
type Event struct {
	// RunID uniquely identifies one crawl run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Target is the crawl target's query key (rn).
	Target string
	// PartitionKey scopes page events to the active partition.
	PartitionKey string
	// Page is the 1-based page number for page and record events.
	Page int
	// Cards carries the record count attributed to the page so far.
	Cards int
	// Dur captures execution latency for page and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageSessionRestart:
	case StagePageStart, StagePageDone, StagePageExhausted, StageRecord:
		if e.Page < 1 {
			return fmt.Errorf("%s requires a page number", e.Stage)
		}
		if e.PartitionKey == "" {
			return fmt.Errorf("%s requires a partition key", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
