package models

import "fmt"

// Ranges lists the amplifier ranges from the widest to the narrowest.
var Ranges = []string{"1mA", "100uA", "10uA", "1uA", "100nA", "10nA", "1nA", "100pA"}

// RangeNone sorts after every real range.
const RangeNone = "none"

// RangeFullScale maps each range to its full scale current in amperes
var RangeFullScale = map[string]float64{
	"1mA":   1e-3,
	"100uA": 1e-4,
	"10uA":  1e-5,
	"1uA":   1e-6,
	"100nA": 1e-7,
	"10nA":  1e-8,
	"1nA":   1e-9,
	"100pA": 1e-10,
}

// RangeIndex returns the position of r in Ranges, len(Ranges) for RangeNone
func RangeIndex(r string) (int, error) {
	if r == RangeNone {
		return len(Ranges), nil
	}
	for i, name := range Ranges {
		if name == r {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown range %q", r)
}

// TriggerInputs maps the external trigger input names to their line number
var TriggerInputs = map[string]int{
	"DIO_1": 0, "DIO_2": 1, "DIO_3": 2, "DIO_4": 3,
	"DIFF_IO_1": 4, "DIFF_IO_2": 5, "DIFF_IO_3": 6,
	"DIFF_IO_4": 7, "DIFF_IO_5": 8, "DIFF_IO_6": 9,
	"DIFF_IO_7": 10, "DIFF_IO_8": 11, "DIFF_IO_9": 12,
}

// NumChannels is the number of current inputs of an EM#2
const NumChannels = 4

// Acquisition states reported by ACQU:STAT? without the STATE_ prefix
const (
	AcqStateOn        = "ON"
	AcqStateRunning   = "RUNNING"
	AcqStateAcquiring = "ACQUIRING"
	AcqStateFault     = "FAULT"
)

// Trigger modes accepted by TRIG:MODE
const (
	TriggerSoftware = "SOFTWARE"
	TriggerHardware = "HARDWARE"
	TriggerGate     = "GATE"
)

// ChannelData holds the values of one channel returned by a data read
type ChannelData struct {
	Name   string
	Values []float64
}

// Points returns the number of points of the shortest channel
func Points(data []ChannelData) int {
	if len(data) == 0 {
		return 0
	}
	n := len(data[0].Values)
	for _, ch := range data[1:] {
		if len(ch.Values) < n {
			n = len(ch.Values)
		}
	}
	return n
}
