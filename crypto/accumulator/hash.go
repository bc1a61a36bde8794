package accumulator

import (
	"math/big"

	sha256 "github.com/minio/sha256-simd"
)

// millerRabinRounds gives a false-positive probability of at most 2^-128 for
// the candidate sizes hash-to-prime produces (big.Int.ProbablyPrime already
// mixes in a BPSW test, so 20 extra Miller-Rabin rounds comfortably clears
// that bound).
const millerRabinRounds = 20

// maxHashToPrimeAttempts bounds the incremental search.
const maxHashToPrimeAttempts = 10000

// HashToPrime deterministically maps bytes to an odd prime: SHA-256 digest,
// force the low bit, then walk c, c+2, c+4, ... until ProbablyPrime holds or
// the attempt budget is exhausted.
func HashToPrime(data []byte) (*big.Int, error) {
	c := seedCandidate(data)
	for attempt := 0; attempt < maxHashToPrimeAttempts; attempt++ {
		if c.ProbablyPrime(millerRabinRounds) {
			return c, nil
		}
		c.Add(c, big.NewInt(2))
	}
	return nil, ErrHashToPrimeExhausted
}

// HashToPrimeCoprimeToLambda is the same search, additionally rejecting any
// candidate that shares a factor with lambda. Used for every device prime
// so the trapdoor inverse p⁻¹ mod λ always exists.
func HashToPrimeCoprimeToLambda(data []byte, lambda *big.Int) (*big.Int, error) {
	if lambda == nil || lambda.Sign() <= 0 {
		return nil, wrapInvalidParameter("lambda must be positive")
	}
	c := seedCandidate(data)
	one := big.NewInt(1)
	gcd := new(big.Int)
	for attempt := 0; attempt < maxHashToPrimeAttempts; attempt++ {
		if c.ProbablyPrime(millerRabinRounds) {
			gcd.GCD(nil, nil, c, lambda)
			if gcd.Cmp(one) == 0 {
				return new(big.Int).Set(c), nil
			}
		}
		c.Add(c, big.NewInt(2))
	}
	return nil, ErrHashToPrimeExhausted
}

func seedCandidate(data []byte) *big.Int {
	digest := sha256.Sum256(data)
	c := new(big.Int).SetBytes(digest[:])
	c.SetBit(c, 0, 1) // force low bit: c |= 1
	return c
}
