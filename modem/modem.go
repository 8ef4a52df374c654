package modem

import (
	"errors"
	"fmt"
	"math"
)

// SampleRate is the modem's configured audio sample rate.
const SampleRate = 48000

// MaxOccupiedBandwidthHz bounds the 99% occupied bandwidth of any
// symbol rate this modem will select.
const MaxOccupiedBandwidthHz = 2800

// PreambleSymbols is the minimum length of the known sync preamble.
const PreambleSymbols = 32

// frameStartMarker is the 16-bit frame-start marker that follows the
// preamble, always sent BPSK-robust regardless of the data
// modulation, so a receiver can find frame boundaries even at the
// edge of copy.
const frameStartMarker uint16 = 0xDEAD

var (
	ErrSyncLost    = errors.New("modem: sync lost")
	ErrTruncated   = errors.New("modem: truncated sample stream")
	ErrUnrecovered = ErrFecUnrecoverable
)

// Status is returned by GetStatus.
type Status struct {
	Modulation  Modulation
	DataRateBps float64
	SNREstimate float64
}

// Modem converts byte buffers to baseband sample streams and back,
// applying FEC and choosing a modulation to suit the current link
// quality. It does not retry; failed frames are dropped and counted,
// per the modem's failure semantics (reliability is the packet
// layer's job).
type Modem struct {
	selector *Selector
	fec      *FEC
	symRate  float64

	framesDropped uint64
}

// New constructs a Modem using the given FEC codec (typically sized
// for 25% redundancy, see NewFEC) and a starting symbol rate chosen so
// 16-QAM's occupied bandwidth stays within MaxOccupiedBandwidthHz.
func New(fec *FEC) *Modem {
	return &Modem{
		selector: NewSelector(),
		fec:      fec,
		symRate:  symbolRateFor(QAM16),
	}
}

// symbolRateFor picks a symbol rate (baud) such that the 99% occupied
// bandwidth (~1.2x the symbol rate for a typically-shaped pulse) stays
// under MaxOccupiedBandwidthHz regardless of which modulation is
// active; a fixed rate keeps timing recovery simple across mode
// switches, same as Dire Wolf's fixed-baud AFSK/9600 framing.
func symbolRateFor(_ Modulation) float64 {
	return float64(MaxOccupiedBandwidthHz) / 1.2
}

// SetModulation pins the modem to a specific modulation, bypassing
// adaptive selection (operators use this to force a robust mode on a
// known-bad link).
func (m *Modem) SetModulation(mod Modulation) { m.selector.Set(mod) }

// ObserveSNR folds a fresh SNR sample (dB) into the adaptive estimate
// and re-evaluates modulation selection, per the hysteretic state
// machine in Selector.
func (m *Modem) ObserveSNR(sampleDB float64) Modulation {
	return m.selector.Observe(sampleDB)
}

// GetStatus reports the modem's current modulation, data rate and SNR
// estimate.
func (m *Modem) GetStatus() Status {
	mod := m.selector.Current()
	return Status{
		Modulation:  mod,
		DataRateBps: m.symRate * float64(mod.BitsPerSymbol()),
		SNREstimate: m.selector.SNREstimate(),
	}
}

// Transmit converts bytes into a real-valued baseband sample sequence:
// preamble, frame-start marker, then the FEC-encoded, interleaved
// payload mapped onto the current modulation's constellation.
func (m *Modem) Transmit(data []byte) []float32 {
	mod := m.selector.Current()

	shards, shardSize := m.fec.Encode(data)
	flat := flattenShards(shards, shardSize)
	flat = Interleave(flat)

	var samples []float32
	samples = append(samples, preambleSamples()...)
	samples = append(samples, markerSamples(frameStartMarker)...)
	samples = append(samples, lengthSamples(uint16(len(data)))...)
	samples = append(samples, modulateBytes(flat, mod)...)
	return samples
}

// Receive demodulates a sample stream produced by Transmit, undoes FEC
// and the interleaver, and returns the original bytes. Unrecoverable
// frames are dropped (bumping framesDropped) and reported via error;
// the modem never retries.
func (m *Modem) Receive(samples []float32) ([]byte, error) {
	mod := m.selector.Current()

	idx := 0
	if !findPreamble(samples, &idx) {
		m.framesDropped++
		return nil, ErrSyncLost
	}
	marker, ok := demodMarker(samples, &idx)
	if !ok || marker != frameStartMarker {
		m.framesDropped++
		return nil, ErrSyncLost
	}
	msgLen, ok := demodLength(samples, &idx)
	if !ok {
		m.framesDropped++
		return nil, ErrTruncated
	}

	fec := m.fec
	total := fec.dataShards + fec.parityShards
	shardSize := fec.ShardSize(int(msgLen))
	bps := mod.BitsPerSymbol()
	totalBits := shardSize * total * 8
	needSamples := (totalBits + bps - 1) / bps
	if idx+needSamples > len(samples) {
		m.framesDropped++
		return nil, ErrTruncated
	}

	flat := demodulateBytes(samples[idx:idx+needSamples], mod, shardSize*total)
	flat = Deinterleave(flat)
	shards := unflattenShards(flat, total, shardSize)

	out, err := fec.Decode(shards, int(msgLen))
	if err != nil {
		m.framesDropped++
		return nil, fmt.Errorf("%w: %v", ErrUnrecovered, err)
	}
	return out, nil
}

// FramesDropped is a cumulative counter surfaced to telemetry; modem
// errors never propagate as faults, only as counters.
func (m *Modem) FramesDropped() uint64 { return m.framesDropped }

func flattenShards(shards [][]byte, shardSize int) []byte {
	out := make([]byte, 0, len(shards)*shardSize)
	for _, s := range shards {
		out = append(out, s...)
	}
	return out
}

func unflattenShards(flat []byte, numShards, shardSize int) [][]byte {
	shards := make([][]byte, numShards)
	for i := 0; i < numShards; i++ {
		start := i * shardSize
		end := start + shardSize
		if end > len(flat) {
			end = len(flat)
		}
		s := make([]byte, shardSize)
		if start < len(flat) {
			copy(s, flat[start:end])
		}
		shards[i] = s
	}
	return shards
}

// The remainder of this file is a minimal, host-hardware-free
// baseband representation: one real sample per symbol encoding the
// constellation point's phase as a value in [-1,1]. Real audio
// synthesis/demodulation is a soundcard/host concern outside this
// module; this is the smallest faithful stand-in that lets
// Transmit/Receive round-trip over an in-memory or loopback channel.

func preambleSamples() []float32 {
	s := make([]float32, PreambleSymbols)
	for i := range s {
		if i%2 == 0 {
			s[i] = 1
		} else {
			s[i] = -1
		}
	}
	return s
}

func findPreamble(samples []float32, idx *int) bool {
	if len(samples) < PreambleSymbols {
		return false
	}
	want := preambleSamples()
	for start := 0; start+PreambleSymbols <= len(samples); start++ {
		match := true
		for i, w := range want {
			if !closeEnough(samples[start+i], w) {
				match = false
				break
			}
		}
		if match {
			*idx = start + PreambleSymbols
			return true
		}
	}
	return false
}

func closeEnough(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 0.25
}

func markerSamples(marker uint16) []float32 {
	return bitsToSamples(uint64(marker), 16)
}

func demodMarker(samples []float32, idx *int) (uint16, bool) {
	if *idx+16 > len(samples) {
		return 0, false
	}
	v := samplesToBits(samples[*idx:*idx+16], 16)
	*idx += 16
	return uint16(v), true
}

func lengthSamples(length uint16) []float32 {
	return bitsToSamples(uint64(length), 16)
}

func demodLength(samples []float32, idx *int) (uint16, bool) {
	if *idx+16 > len(samples) {
		return 0, false
	}
	v := samplesToBits(samples[*idx:*idx+16], 16)
	*idx += 16
	return uint16(v), true
}

func bitsToSamples(v uint64, nbits int) []float32 {
	out := make([]float32, nbits)
	for i := 0; i < nbits; i++ {
		bit := (v >> uint(nbits-1-i)) & 1
		if bit == 1 {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return out
}

func samplesToBits(samples []float32, nbits int) uint64 {
	var v uint64
	for i := 0; i < nbits; i++ {
		v <<= 1
		if samples[i] > 0 {
			v |= 1
		}
	}
	return v
}

// modulateBytes maps each byte's bits onto mod's constellation, one
// phase sample per symbol. The phase is represented directly as a
// value in [-1,1] (cos of the constellation angle) rather than a full
// IQ pair, sufficient for lossless loopback round-tripping.
func modulateBytes(data []byte, mod Modulation) []float32 {
	bps := mod.BitsPerSymbol()
	var bits []byte
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bits = append(bits, (b>>uint(i))&1)
		}
	}
	// Pad to a whole number of symbols.
	for len(bits)%bps != 0 {
		bits = append(bits, 0)
	}

	samples := make([]float32, 0, len(bits)/bps)
	levels := 1 << uint(bps)
	for i := 0; i < len(bits); i += bps {
		var sym int
		for j := 0; j < bps; j++ {
			sym = (sym << 1) | int(bits[i+j])
		}
		angle := 2 * math.Pi * float64(sym) / float64(levels)
		samples = append(samples, float32(math.Cos(angle)))
	}
	return samples
}

func demodulateBytes(samples []float32, mod Modulation, nbytes int) []byte {
	bps := mod.BitsPerSymbol()
	levels := 1 << uint(bps)
	nbits := nbytes * 8

	bits := make([]byte, 0, nbits)
	for _, s := range samples {
		if len(bits) >= nbits {
			break
		}
		best := 0
		bestDist := math.MaxFloat64
		for sym := 0; sym < levels; sym++ {
			angle := 2 * math.Pi * float64(sym) / float64(levels)
			dist := math.Abs(float64(s) - math.Cos(angle))
			if dist < bestDist {
				bestDist = dist
				best = sym
			}
		}
		for j := bps - 1; j >= 0; j-- {
			bits = append(bits, byte((best>>uint(j))&1))
		}
	}
	for len(bits) < nbits {
		bits = append(bits, 0)
	}

	out := make([]byte, nbytes)
	for i := 0; i < nbytes; i++ {
		var b byte
		for j := 0; j < 8; j++ {
			b = (b << 1) | bits[i*8+j]
		}
		out[i] = b
	}
	return out
}
