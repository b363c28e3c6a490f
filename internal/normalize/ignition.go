package normalize

import (
	"math"
	"strings"

	"fleet-monitor/gps-poller/internal/domain"
)

// JT808 terminal status word: bit 0 is ACC.
const accBit = 1 << 0

const (
	bitsConfidence   = 0.8
	stringConfidence = 0.7
	speedConfidence  = 0.5
	agreeBonus       = 0.1
	conflictPenalty  = 0.2
	minConfidence    = 0.1
)

var (
	accOffTokens = []string{"ACCOFF", "ACC关", "熄火"}
	accOnTokens  = []string{"ACCON", "ACC开", "点火"}
)

// Ignition is the outcome of ignition inference.
type Ignition struct {
	On         *bool
	Confidence float64
	Method     domain.IgnitionMethod
}

type signal struct {
	method domain.IgnitionMethod
	on     bool
}

// DetectIgnition inspects the status word, then the status strings, then
// speed. The highest-priority definite source decides the state; the others
// raise or lower the confidence.
func DetectIgnition(raw *domain.RawRecord, speedKmh, movingKmh float64) Ignition {
	var signals []signal

	if on, ok := ignitionFromBits(raw.Status); ok {
		signals = append(signals, signal{method: domain.IgnitionStatusBits, on: on})
	}
	if on, ok := ignitionFromString(raw.StrStatus); ok {
		signals = append(signals, signal{method: domain.IgnitionStatusString, on: on})
	} else if on, ok := ignitionFromString(raw.StrStatusEn); ok {
		signals = append(signals, signal{method: domain.IgnitionStatusString, on: on})
	}
	if speedKmh > movingKmh {
		signals = append(signals, signal{method: domain.IgnitionSpeedHeuristic, on: true})
	}

	if len(signals) == 0 {
		return Ignition{Method: domain.IgnitionUnknown}
	}

	first := signals[0]
	conf := baseConfidence(first.method)
	for _, s := range signals[1:] {
		if s.on == first.on {
			conf += agreeBonus
		} else {
			conf -= conflictPenalty
		}
	}

	on := first.on
	return Ignition{
		On:         &on,
		Confidence: math.Round(clamp(conf, minConfidence, 1)*100) / 100,
		Method:     first.method,
	}
}

func baseConfidence(m domain.IgnitionMethod) float64 {
	switch m {
	case domain.IgnitionStatusBits:
		return bitsConfidence
	case domain.IgnitionStatusString:
		return stringConfidence
	case domain.IgnitionSpeedHeuristic:
		return speedConfidence
	}
	return 0
}

func ignitionFromBits(status domain.Number) (bool, bool) {
	if !status.Valid || status.Value < 0 || status.Value != math.Trunc(status.Value) || status.Value > math.MaxUint32 {
		return false, false
	}
	return uint32(status.Value)&accBit != 0, true
}

func ignitionFromString(s *string) (bool, bool) {
	if s == nil {
		return false, false
	}
	norm := strings.NewReplacer(" ", "", ":", "", "_", "", "-", "", "=", "").Replace(strings.ToUpper(*s))
	if norm == "" {
		return false, false
	}
	for _, tok := range accOffTokens {
		if strings.Contains(norm, tok) {
			return false, true
		}
	}
	for _, tok := range accOnTokens {
		if strings.Contains(norm, tok) {
			return true, true
		}
	}
	return false, false
}
