package accumulator

import "github.com/pkg/errors"

// Sentinel errors for the engine's failure modes. Callers in
// the gateway layer map these onto the broader Kind taxonomy in gwerrors;
// this package stays free of any transport/HTTP concept.
var (
	ErrInvalidParameter    = errors.New("accumulator: invalid parameter")
	ErrNotCoprime          = errors.New("accumulator: not coprime to lambda")
	ErrHashToPrimeExhausted = errors.New("accumulator: hash-to-prime exhausted attempt budget")
	ErrWitnessMismatch     = errors.New("accumulator: witness verification failed")
)

func wrapInvalidParameter(msg string) error {
	return errors.Wrap(ErrInvalidParameter, msg)
}

func wrapNotCoprime(msg string) error {
	return errors.Wrap(ErrNotCoprime, msg)
}
