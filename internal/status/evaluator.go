package status

import (
	"encoding/json"
	"fmt"

	"github.com/smukkama/vitals-server/internal/measurement"
)

// Severity is the overall condition derived from one measurement
type Severity int

const (
	Normal Severity = iota
	Warning
	Critical
)

// Clinical thresholds
const (
	SpO2CriticalBelow = 92
	SpO2WarningBelow  = 95
	BPMLowerBound     = 50
	BPMUpperBound     = 120
	FeverAbove        = 38.0
)

// Issue descriptions
const (
	IssueSevereLowSpO2 = "Severely low oxygen saturation"
	IssueLowSpO2       = "Low SpO2"
	IssueAbnormalBPM   = "Abnormal heart rate"
	IssueFever         = "Fever"
)

func (s Severity) String() string {
	switch s {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "normal":
		*s = Normal
	case "warning":
		*s = Warning
	case "critical":
		*s = Critical
	default:
		return fmt.Errorf("unknown severity %q", name)
	}
	return nil
}

// Result is the outcome of evaluating one measurement
type Result struct {
	Severity Severity `json:"status"`
	Issues   []string `json:"issues"`
}

// finding is what a single fired rule contributes
type finding struct {
	Severity Severity
	Issue    string
}

type rule func(m measurement.Measurement) (finding, bool)

// rules run in this order; the order only affects how issues are listed
var rules = []rule{
	spo2Rule,
	heartRateRule,
	temperatureRule,
}

// Evaluate maps a measurement to a severity and the list of issues found.
// Severity is the maximum over all fired rules.
func Evaluate(m measurement.Measurement) Result {
	result := Result{Severity: Normal, Issues: []string{}}
	for _, r := range rules {
		f, fired := r(m)
		if !fired {
			continue
		}
		if f.Severity > result.Severity {
			result.Severity = f.Severity
		}
		result.Issues = append(result.Issues, f.Issue)
	}
	return result
}

func spo2Rule(m measurement.Measurement) (finding, bool) {
	switch {
	case m.SpO2 < SpO2CriticalBelow:
		return finding{Severity: Critical, Issue: IssueSevereLowSpO2}, true
	case m.SpO2 < SpO2WarningBelow:
		return finding{Severity: Warning, Issue: IssueLowSpO2}, true
	}
	return finding{}, false
}

func heartRateRule(m measurement.Measurement) (finding, bool) {
	if m.BPM < BPMLowerBound || m.BPM > BPMUpperBound {
		return finding{Severity: Critical, Issue: IssueAbnormalBPM}, true
	}
	return finding{}, false
}

// temperatureRule never raises above Warning, so folding with max keeps
// an earlier Critical in place.
func temperatureRule(m measurement.Measurement) (finding, bool) {
	if m.Temperature > FeverAbove {
		return finding{Severity: Warning, Issue: IssueFever}, true
	}
	return finding{}, false
}
