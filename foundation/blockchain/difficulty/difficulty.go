// Package difficulty implements the compact (Bitcoin-style) difficulty
// encoding used to derive a mining target and the bounded retargeting rule
// the chain engine uses to adjust it over time.
package difficulty

import (
	"fmt"
	"math/big"
)

// Compact is the 32-bit packed (exponent, mantissa) representation of a
// 256-bit target: the high byte holds the exponent, the low three bytes
// hold the mantissa, and target = mant * 2^(8*(exp-3)).
type Compact uint32

// Genesis-era and boundary values. MinDifficulty is the easiest target
// (largest number), MaxDifficulty the hardest (smallest number) this
// implementation will retarget to.
const (
	MinDifficulty Compact = 0x1f00ffff
	MaxDifficulty Compact = 0x03010000
)

// TargetSpacingSeconds is the desired average time between blocks. The
// retarget rule nudges difficulty toward this spacing.
const TargetSpacingSeconds = 10

// retargetStep is the fractional adjustment applied per block, expressed as
// a denominator: difficulty moves by 1/retargetStep of its current value.
const retargetStep = 2048

// targetBits is the width in bytes of a target, matching the 32-byte
// parent-hash/trx-trie-root fields used elsewhere in the header.
const targetBits = 32

// Target converts the compact encoding into the 256-bit target value.
func (c Compact) Target() *big.Int {
	exp := uint(c >> 24)
	mant := new(big.Int).SetUint64(uint64(c & 0x00ffffff))

	if exp <= 3 {
		// Mantissa is shifted right; degenerate case, clamp to the
		// mantissa itself right-shifted.
		shift := uint((3 - exp) * 8)
		return new(big.Int).Rsh(mant, shift)
	}

	shift := uint((exp - 3) * 8)
	return new(big.Int).Lsh(mant, shift)
}

// HexTarget renders the target as a 64-hex-digit, zero-padded, lowercase
// string suitable for the lexicographic comparison mandated by the mining
// rules.
func (c Compact) HexTarget() string {
	target := c.Target()

	buf := make([]byte, targetBits)
	target.FillBytes(buf)

	return fmt.Sprintf("%x", buf)
}

// Satisfies reports whether the lowercase hex digest hashHex, compared
// lexicographically as a fixed-width hex string, is less than or equal to
// the target this Compact encodes. Lexicographic comparison over
// fixed-width lowercase hex is equivalent to unsigned big-endian integer
// comparison.
func (c Compact) Satisfies(hashHex string) bool {
	return hashHex <= c.HexTarget()
}

// ToRaw returns the difficulty expressed as the raw 64-bit value hashed
// into the mining preimage. This is distinct from the compact target used
// for the actual hit test; both derive from the same consensus parameter.
func (c Compact) ToRaw() uint64 {
	return new(big.Int).Div(maxTarget, c.Target()).Uint64()
}

// FromRaw converts a raw 64-bit difficulty value back into its compact
// encoding, the inverse of ToRaw.
func FromRaw(raw uint64) Compact {
	if raw == 0 {
		return MinDifficulty
	}

	target := new(big.Int).Div(maxTarget, new(big.Int).SetUint64(raw))
	return fromTarget(target)
}

// maxTarget is the target corresponding to a raw difficulty of 1, the
// easiest possible target representable in 256 bits.
var maxTarget = MinDifficulty.Target()

// fromTarget packs a 256-bit target value back into its compact encoding.
func fromTarget(target *big.Int) Compact {
	buf := target.Bytes()

	// Find the most significant non-zero byte; exp counts bytes from the
	// right, matching Bitcoin's nBits convention.
	exp := uint(len(buf))

	var mant uint32
	switch {
	case exp == 0:
		return 0
	case exp <= 3:
		shifted := make([]byte, 3)
		copy(shifted, buf)
		mant = uint32(shifted[0])<<16 | uint32(shifted[1])<<8 | uint32(shifted[2])
	default:
		mant = uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	}

	// The mantissa's top bit is reserved as a sign flag in Bitcoin's
	// encoding; shift right one more byte if it would be set so the value
	// always decodes positive.
	if mant&0x00800000 != 0 {
		mant >>= 8
		exp++
	}

	return Compact(uint32(exp)<<24 | mant)
}

// clamp keeps a retargeted Compact within [MaxDifficulty, MinDifficulty],
// recalling that MaxDifficulty is numerically the hardest (smallest target)
// and MinDifficulty the easiest (largest target).
func clamp(c Compact) Compact {
	if c.Target().Cmp(MinDifficulty.Target()) > 0 {
		return MinDifficulty
	}
	if c.Target().Cmp(MaxDifficulty.Target()) < 0 {
		return MaxDifficulty
	}
	return c
}

// Retarget computes the next block's difficulty from the parent's compact
// difficulty and the observed spacing between parent and block timestamps.
// Spacing below TargetSpacingSeconds tightens the target by 1/2048 of its
// current value; spacing at or above it loosens by the same fraction. The
// result is clamped to the supported difficulty range. Height is accepted
// for future schedule changes (e.g. epoch boundaries) but is unused by this
// fixed-step rule.
func Retarget(parentCompact Compact, parentTime, blockTime int64, height uint64) Compact {
	parentTarget := parentCompact.Target()

	step := new(big.Int).Div(parentTarget, big.NewInt(retargetStep))
	if step.Sign() == 0 {
		step = big.NewInt(1)
	}

	spacing := blockTime - parentTime

	var nextTarget *big.Int
	switch {
	case spacing < TargetSpacingSeconds:
		// Faster than desired: tighten the target (harder).
		nextTarget = new(big.Int).Sub(parentTarget, step)
	default:
		// At or slower than desired: loosen the target (easier).
		nextTarget = new(big.Int).Add(parentTarget, step)
	}

	if nextTarget.Sign() <= 0 {
		nextTarget = big.NewInt(1)
	}

	return clamp(fromTarget(nextTarget))
}
