package pulse

import (
	"fmt"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/runtime"
)

// Type classifies the stimulus behind a pulse.
type Type string

const (
	TypeUser     Type = "user"
	TypeSchedule Type = "schedule"
	TypeAuto     Type = "auto"
)

// Priority returns the numeric priority; lower wins.
func (t Type) Priority() int {
	switch t {
	case TypeUser:
		return 1
	case TypeSchedule:
		return 2
	default:
		return 3
	}
}

// arbitration is the same-priority policy: a "last" request replaces a
// running request of equal priority.
func (t Type) arbitration() string {
	if t == TypeUser {
		return "last"
	}
	return "first"
}

// onBlocked is the policy applied when the request loses arbitration or
// gets preempted: "wait" re-queues, "skip" drops.
func (t Type) onBlocked() string {
	if t == TypeSchedule {
		return "wait"
	}
	return "skip"
}

// Request is one stimulus to handle on behalf of a persona.
type Request struct {
	Type       Type
	PersonaID  string
	BuildingID string
	UserInput  string

	// MetaPlaybook overrides the controller's default entry playbook.
	MetaPlaybook string

	// PlaybookParams seed the run's initial state.
	PlaybookParams map[string]any

	Metadata map[string]any
	Events   *events.Callback

	Token *runtime.CancellationToken

	// done is closed once the request's execution has fully unwound,
	// interruption record included. Preemptors wait on it before
	// starting, so a persona never runs two requests at once.
	done chan struct{}

	// IsResumption marks a request re-queued after preemption.
	// OriginalPrompt then carries the first submission's user input and
	// InterruptedBy names the request type that preempted it.
	IsResumption   bool
	OriginalPrompt string
	InterruptedBy  string
}

// EffectiveInput is what the playbook run receives as user input. A
// resumed request wraps the original prompt in a system annotation
// explaining the interruption; that is the only textual difference from
// a first-time run.
func (r *Request) EffectiveInput() string {
	if !r.IsResumption {
		return r.UserInput
	}
	original := r.OriginalPrompt
	if original == "" {
		original = r.UserInput
	}
	interruptedBy := r.InterruptedBy
	if interruptedBy == "" {
		interruptedBy = "別"
	}
	return fmt.Sprintf(
		"<system>このリクエストは%sのリクエストにより一度中断されました。以下の元のリクエストを再開してください。</system>\n\n%s",
		interruptedBy, original)
}

// resumptionCopy derives the entry re-queued at the head of the lane
// when a "wait" request gets preempted.
func (r *Request) resumptionCopy() *Request {
	original := r.OriginalPrompt
	if original == "" {
		original = r.UserInput
	}
	cp := *r
	cp.IsResumption = true
	cp.OriginalPrompt = original
	if r.Token != nil {
		cp.InterruptedBy = r.Token.InterruptedBy()
	}
	// Neither the cancelled token nor the finished run's done signal may
	// leak into the resumed run; fresh ones are minted at execution time.
	cp.Token = nil
	cp.done = nil
	return &cp
}

// Status is the submit outcome class.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusQueued   Status = "queued"
	StatusSkipped  Status = "skipped"
)

// Outcome is what Submit reports back to the stimulus source.
type Outcome struct {
	Status  Status
	Outputs []string
}
