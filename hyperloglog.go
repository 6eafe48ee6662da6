// Package hyperloglog implements the HyperLogLog cardinality estimation
// algorithm.
// HyperLogLog estimates the number of distinct elements in a data stream
// using a fixed-size register array, trading a small configurable relative
// error for constant memory independent of stream length.
//
// A HyperLogLog is not safe for concurrent use. To ingest in parallel, give
// each goroutine its own estimator over a shard of the stream and combine
// the results with Merge once all goroutines have finished.
//
// HyperLogLog is described here:
// http://algo.inria.fr/flajolet/Publications/FlFuGaMe07.pdf
package hyperloglog

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/spaolacci/murmur3"
)

// DefaultErrorRate is the relative error targeted by NewDefault.
const DefaultErrorRate = 0.008

const two32 float64 = 1 << 32

var (
	// ErrInvalidErrorRate is returned by New when the requested error rate
	// is nonpositive or would need fewer than the minimum of 16 registers.
	ErrInvalidErrorRate = errors.New("invalid error rate")

	// ErrPrecisionMismatch is returned by Merge when the two estimators
	// were built with different precisions.
	ErrPrecisionMismatch = errors.New("precisions must be equal")
)

type HyperLogLog struct {
	reg   []uint8
	m     uint32
	p     uint8
	alpha float64
}

// New returns a HyperLogLog sized for the given target relative error.
// The precision is derived as p = ceil(log2((1.04/errorRate)^2)), giving
// m = 2^p registers of one byte each. Error rates that are nonpositive,
// need fewer than 16 registers (above ~0.368), or need a precision above
// 26 bits are rejected.
func New(errorRate float64) (*HyperLogLog, error) {
	if errorRate <= 0 {
		return nil, fmt.Errorf("%w: must be positive, got %v", ErrInvalidErrorRate, errorRate)
	}
	pf := math.Ceil(math.Log2(math.Pow(1.04/errorRate, 2)))
	if pf < 4 {
		return nil, fmt.Errorf("%w: %v is too high, register count is below the minimum of 16", ErrInvalidErrorRate, errorRate)
	}
	if pf > 26 {
		return nil, fmt.Errorf("%w: %v needs precision %v, above the maximum of 26", ErrInvalidErrorRate, errorRate, pf)
	}

	h := &HyperLogLog{}
	h.p = uint8(pf)
	h.m = 1 << h.p
	h.alpha = alpha(h.m)
	h.reg = make([]uint8, h.m)
	return h, nil
}

// NewDefault returns a HyperLogLog with the default 0.8% target error,
// which uses 32768 one-byte registers.
func NewDefault() *HyperLogLog {
	h, err := New(DefaultErrorRate)
	if err != nil {
		panic(err)
	}
	return h
}

func alpha(m uint32) float64 {
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	}
	return 0.7213 / (1 + 1.079/float64(m))
}

// Precision returns the number of leading hash bits used as register index.
func (h *HyperLogLog) Precision() uint8 { return h.p }

// RegisterCount returns the number of registers, 2^Precision().
func (h *HyperLogLog) RegisterCount() uint32 { return h.m }

// Clear sets HyperLogLog h back to its initial state.
func (h *HyperLogLog) Clear() {
	h.reg = make([]uint8, h.m)
}

// AddUint64 adds a pre-hashed value to HyperLogLog h. Every AddUint64 on a
// given estimator must use the same well-distributed 64-bit hash function,
// otherwise its registers become incomparable.
func (h *HyperLogLog) AddUint64(x uint64) {
	i := x >> (64 - h.p)     // {x63,...,x64-p}
	w := x<<h.p | 1<<(h.p-1) // {x63-p,...,x0}, sentinel bit caps the rank at 64-p+1

	zeroBits := uint8(bits.LeadingZeros64(w)) + 1
	if zeroBits > h.reg[i] {
		h.reg[i] = zeroBits
	}
}

// Add hashes v with murmur3 and adds it to HyperLogLog h.
func (h *HyperLogLog) Add(v []byte) {
	h.AddUint64(murmur3.Sum64(v))
}

// AddString hashes s with murmur3 and adds it to HyperLogLog h.
func (h *HyperLogLog) AddString(s string) {
	h.AddUint64(murmur3.Sum64([]byte(s)))
}

// SeenUint64 reports whether adding the pre-hashed value x would leave
// HyperLogLog h unchanged.
func (h *HyperLogLog) SeenUint64(x uint64) bool {
	i := x >> (64 - h.p)
	w := x<<h.p | 1<<(h.p-1)
	return uint8(bits.LeadingZeros64(w))+1 <= h.reg[i]
}

// Seen reports whether adding v would leave HyperLogLog h unchanged.
func (h *HyperLogLog) Seen(v []byte) bool {
	return h.SeenUint64(murmur3.Sum64(v))
}

// Merge combines another HyperLogLog into h. Each register of h becomes the
// pairwise max, so afterwards h is equivalent to a single estimator fed both
// input streams. The other estimator is left unmodified.
func (h *HyperLogLog) Merge(other *HyperLogLog) error {
	if h.p != other.p {
		return ErrPrecisionMismatch
	}

	for i, v := range other.reg {
		if v > h.reg[i] {
			h.reg[i] = v
		}
	}
	return nil
}

// Count returns the cardinality estimate.
func (h *HyperLogLog) Count() uint64 {
	est := calculateEstimate(h.reg, h.alpha)
	return uint64(rangeCorrection(est, float64(h.m), countZeros(h.reg)))
}

// ErrorRate returns the theoretical standard error of the estimator,
// 1.04/sqrt(m). It depends only on the configured precision, not on the
// data added so far.
func (h *HyperLogLog) ErrorRate() float64 {
	return 1.04 / math.Sqrt(float64(h.m))
}

// calculateEstimate computes the raw harmonic-mean estimate alpha*m^2/Z
// with Z = sum(2^-reg[j]).
func calculateEstimate(reg []uint8, alpha float64) float64 {
	sum := 0.0
	for _, v := range reg {
		sum += 1.0 / float64(uint64(1)<<v)
	}
	m := float64(len(reg))
	return alpha * m * m / sum
}

// rangeCorrection applies the three-regime bias correction from section 4
// of the Flajolet paper to the raw estimate.
func rangeCorrection(est, m float64, zeros uint32) float64 {
	switch {
	case est <= 2.5*m:
		// Small range: with empty registers, linear counting beats the
		// raw estimate.
		if zeros != 0 {
			return linearCounting(m, zeros)
		}
		return est
	case est <= two32/30:
		// Intermediate range: no correction.
		return est
	default:
		// Large range: the 32-bit hash-space bias model starts to saturate.
		return -two32 * math.Log(1-est/two32)
	}
}

func linearCounting(m float64, zeros uint32) float64 {
	return m * math.Log(m/float64(zeros))
}

func countZeros(reg []uint8) uint32 {
	var count uint32
	for _, v := range reg {
		if v == 0 {
			count++
		}
	}
	return count
}
