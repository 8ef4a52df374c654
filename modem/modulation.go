package modem

import "fmt"

// Modulation identifies a constellation this modem can transmit/receive.
type Modulation int

const (
	BPSK Modulation = iota
	QPSK
	PSK8
	QAM16
)

func (m Modulation) String() string {
	switch m {
	case BPSK:
		return "BPSK"
	case QPSK:
		return "QPSK"
	case PSK8:
		return "8-PSK"
	case QAM16:
		return "16-QAM"
	default:
		return fmt.Sprintf("modulation(%d)", int(m))
	}
}

// BitsPerSymbol is the constellation's spectral efficiency.
func (m Modulation) BitsPerSymbol() int {
	switch m {
	case BPSK:
		return 1
	case QPSK:
		return 2
	case PSK8:
		return 3
	case QAM16:
		return 4
	default:
		return 1
	}
}

// snrThresholdDB is the minimum SNR (dB) required to select each
// modulation: BPSK < 3, QPSK < 8, 8-PSK < 12, 16-QAM
// otherwise — i.e. the thresholds below are the upper edge of the
// *previous* mode's range, and also the SNR at which the next mode up
// becomes eligible.
var snrThresholdDB = map[Modulation]float64{
	BPSK:  0,
	QPSK:  3,
	PSK8:  8,
	QAM16: 12,
}

// hysteresisDB is the minimum margin required to switch to a higher
// mode, so the selector doesn't flap at a threshold boundary.
const hysteresisDB = 1.0

// snrAlpha is the exponential-average weight applied to each new
// symbol-decision-margin sample.
const snrAlpha = 0.2

// Selector tracks an SNR estimate and chooses the modulation to use.
type Selector struct {
	snrEstimate float64
	current     Modulation
	initialized bool
}

// NewSelector starts in BPSK, the most robust mode, until a real SNR
// estimate has been observed.
func NewSelector() *Selector {
	return &Selector{current: BPSK}
}

// Observe folds a new symbol-decision-margin sample (in dB) into the
// running SNR estimate and re-evaluates the modulation choice.
func (s *Selector) Observe(sampleDB float64) Modulation {
	if !s.initialized {
		s.snrEstimate = sampleDB
		s.initialized = true
	} else {
		s.snrEstimate = snrAlpha*sampleDB + (1-snrAlpha)*s.snrEstimate
	}
	s.reselect()
	return s.current
}

func (s *Selector) reselect() {
	best := bestModulationFor(s.snrEstimate)
	if best == s.current {
		return
	}
	if best > s.current {
		// Climbing to a higher mode requires clearing its threshold
		// by the hysteresis margin, to avoid flapping right at the
		// boundary.
		if s.snrEstimate >= snrThresholdDB[best]+hysteresisDB {
			s.current = best
		}
		return
	}
	// Dropping to a lower, more robust mode happens as soon as the
	// current mode's own threshold is no longer met; no hysteresis
	// is applied on the way down, since under-running a link's
	// margin should be corrected promptly.
	s.current = best
}

func bestModulationFor(snrDB float64) Modulation {
	switch {
	case snrDB < snrThresholdDB[QPSK]:
		return BPSK
	case snrDB < snrThresholdDB[PSK8]:
		return QPSK
	case snrDB < snrThresholdDB[QAM16]:
		return PSK8
	default:
		return QAM16
	}
}

// Current returns the modulation currently selected, without folding
// in a new observation.
func (s *Selector) Current() Modulation { return s.current }

// SNREstimate returns the current exponential-average SNR estimate, in dB.
func (s *Selector) SNREstimate() float64 { return s.snrEstimate }

// Set forces the modulation, bypassing the selector (used by
// set_modulation in the upper-layer API, e.g. to pin a link to BPSK
// for testing).
func (s *Selector) Set(m Modulation) {
	s.current = m
}
