package controller

import (
	"fmt"
	"strings"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
)

// State is the counter/timer state seen by the acquisition framework
type State int

const (
	StateOn State = iota
	StateMoving
	StateFault
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateOn:
		return "On"
	case StateMoving:
		return "Moving"
	case StateFault:
		return "Fault"
	default:
		return "Unknown"
	}
}

// Synchronization tells how the acquisition is triggered
type Synchronization int

const (
	SoftwareTrigger Synchronization = iota
	SoftwareGate
	HardwareTrigger
	HardwareGate
)

// String returns the string representation of Synchronization
func (s Synchronization) String() string {
	switch s {
	case SoftwareTrigger:
		return "SoftwareTrigger"
	case SoftwareGate:
		return "SoftwareGate"
	case HardwareTrigger:
		return "HardwareTrigger"
	case HardwareGate:
		return "HardwareGate"
	default:
		return "Unknown"
	}
}

// IsSoftware reports whether the controller triggers the points itself
func (s Synchronization) IsSoftware() bool {
	return s == SoftwareTrigger || s == SoftwareGate
}

// TriggerMode returns the electrometer trigger mode for s
func (s Synchronization) TriggerMode() string {
	switch s {
	case HardwareTrigger:
		return models.TriggerHardware
	case HardwareGate:
		return models.TriggerGate
	default:
		return models.TriggerSoftware
	}
}

// ParseSynchronization accepts the names of String and the trigger modes
func ParseSynchronization(s string) (Synchronization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "softwaretrigger", "software":
		return SoftwareTrigger, nil
	case "softwaregate":
		return SoftwareGate, nil
	case "hardwaretrigger", "hardware":
		return HardwareTrigger, nil
	case "hardwaregate", "gate":
		return HardwareGate, nil
	default:
		return 0, fmt.Errorf("unknown synchronization %q", s)
	}
}

// stateFromAcquisition maps the device acquisition state
func stateFromAcquisition(acq string) (State, bool) {
	switch acq {
	case models.AcqStateAcquiring, models.AcqStateRunning:
		return StateMoving, true
	case models.AcqStateOn:
		return StateOn, true
	case models.AcqStateFault:
		return StateFault, true
	default:
		return StateFault, false
	}
}
