package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// readIndexFixed is the last firmware whose ACQU:MEAS? start index is shifted
var readIndexFixed = []int{2, 0}

// Firmware is the version reported as the last field of *idn?
type Firmware struct {
	Raw string
	// Fields holds the dotted integers, nil when a field is not a number
	Fields []int
	// Semver is set when the version also parses as semver
	Semver *semver.Version
}

// ParseFirmware accepts any dotted integer version ("2.0", "1.2.3.4") and
// falls back to semver for versions such as "2.1.0-rc1"
func ParseFirmware(raw string) (*Firmware, error) {
	raw = strings.TrimSpace(raw)
	fw := &Firmware{Raw: raw}
	fw.Semver, _ = semver.NewVersion(raw)

	for _, part := range strings.Split(raw, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			fw.Fields = nil
			break
		}
		fw.Fields = append(fw.Fields, n)
	}

	if fw.Fields == nil && fw.Semver == nil {
		return nil, fmt.Errorf("cannot parse firmware version %q", raw)
	}
	return fw, nil
}

// String returns the version as reported by the device
func (f *Firmware) String() string {
	return f.Raw
}

// HasReadIndexBug reports whether the firmware is 2.0 or older. Dotted
// integers compare field by field, a longer version winning a tie, so
// 2.0.0 is newer than 2.0.
func (f *Firmware) HasReadIndexBug() bool {
	if f.Fields != nil {
		return compareFields(f.Fields, readIndexFixed) <= 0
	}
	return !f.Semver.GreaterThan(semver.New(2, 0, 0, "", ""))
}

func compareFields(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
