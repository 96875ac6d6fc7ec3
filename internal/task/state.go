package task

import "strings"

// State represents the lifecycle state of a task
type State int

// Possible task states
const (
	// StateInQueue is the initial state and the state between repeat iterations
	StateInQueue State = iota
	StateRunning
	StatePaused
	StateError
	StateCancel
	StateFinished
	StateException
	// StateRetry is only ever returned by an executor; the lifecycle turns it back into StateInQueue
	StateRetry
)

var stateNames = map[State]string{
	StateInQueue:   "In Queue",
	StateRunning:   "Running",
	StatePaused:    "Paused",
	StateError:     "Error",
	StateCancel:    "Cancelling",
	StateFinished:  "Finished",
	StateException: "Exception",
	StateRetry:     "Retry",
}

// String returns the display name of the state
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Active reports whether a task in this state is still part of its lifecycle
func (s State) Active() bool {
	return s == StateInQueue || s == StateRunning || s == StatePaused
}

// Failed reports whether the state is a failure outcome
func (s State) Failed() bool {
	return s == StateError || s == StateException
}

// StepState represents the resolution state of a step
type StepState int

// Possible step states
const (
	StepInQueue StepState = iota
	StepInProgress
	StepFailed
	StepSuccess
	StepException
	StepInterrupt
	StepCancel
	StepRetry
)

var stepStateNames = map[StepState]string{
	StepInQueue:    "In Queue",
	StepInProgress: "In Progress",
	StepFailed:     "Failed",
	StepSuccess:    "Success",
	StepException:  "Exception",
	StepInterrupt:  "Interrupt",
	StepCancel:     "Cancel",
	StepRetry:      "Retry",
}

// String returns the display name of the step state
func (s StepState) String() string {
	if name, ok := stepStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Policy is the admission class of a task
type Policy int

// Admission policies. The zero value is PolicyDefault.
const (
	// PolicyDefault admits through the bounded backend and delays on rejection
	PolicyDefault Policy = iota
	// PolicyForce always bypasses the bounded backend
	PolicyForce
	// PolicyOptional is dropped when the bounded backend rejects it
	PolicyOptional
	// PolicySingle allows only one active task per kind
	PolicySingle
)

var policyNames = map[Policy]string{
	PolicyDefault:  "Default",
	PolicyForce:    "Force",
	PolicyOptional: "Optional",
	PolicySingle:   "Single by class",
}

// String returns the display name of the policy
func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return "Unknown"
}

// Property is a boolean trait of a task. Properties combine as a bit set.
type Property uint8

// Task properties
const (
	// PropRepeat loops the lifecycle until a terminal condition is met
	PropRepeat Property = 1 << iota
	// PropIgnoreCritical swallows failures at the attempts ceiling of a repeating task
	PropIgnoreCritical
	// PropDaemon hides status output and keeps successful runs out of the inactive set
	PropDaemon
	// PropKeepAlive routes the task to the unbounded backend and resubmits it on timeout
	PropKeepAlive
)

// String returns the names of the set properties joined by "|"
func (p Property) String() string {
	if p == 0 {
		return "None"
	}
	var names []string
	if p&PropRepeat != 0 {
		names = append(names, "Repeat")
	}
	if p&PropIgnoreCritical != 0 {
		names = append(names, "IgnoreCritical")
	}
	if p&PropDaemon != 0 {
		names = append(names, "Daemon")
	}
	if p&PropKeepAlive != 0 {
		names = append(names, "KeepAlive")
	}
	return strings.Join(names, "|")
}
