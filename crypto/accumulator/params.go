// Package accumulator implements the RSA accumulator engine: hash-to-prime,
// add, trapdoor removal, batch updates, witness generation/refresh and
// membership verification. Every exported function is a deterministic
// function of its arguments — no I/O, no package-level mutable state.
package accumulator

import (
	"math/big"
)

// Params holds the process-wide RSA parameters. They are immutable once
// loaded: N and G are public, Lambda is the trapdoor and must never be
// logged, persisted in cleartext beside N, or sent over the network.
// Params itself carries no mutex — callers that hold a *Params never
// mutate it; concurrent mutation safety lives one layer up, in the gateway's
// single-writer lock around accumulator *state* (the root), not the
// parameters.
type Params struct {
	N      *big.Int
	G      *big.Int
	Lambda *big.Int // the trapdoor; nil in any context that should not see it
}

// PublicParams is the same tuple with Lambda always absent, for contexts
// (verification-only readers, the external API surface) that must never
// hold the trapdoor even transiently.
type PublicParams struct {
	N *big.Int
	G *big.Int
}

// Public strips the trapdoor.
func (p *Params) Public() PublicParams {
	return PublicParams{N: p.N, G: p.G}
}

// NewParams validates and constructs Params from caller-supplied big
// integers. Trusted-setup generation of N and Lambda is out of scope;
// this only validates shape, it does not generate.
func NewParams(n, g, lambda *big.Int) (*Params, error) {
	if n == nil || n.Sign() <= 0 {
		return nil, wrapInvalidParameter("N must be a positive integer")
	}
	if g == nil || g.Sign() <= 0 || g.Cmp(n) >= 0 {
		return nil, wrapInvalidParameter("G must be in [1, N)")
	}
	if lambda != nil && lambda.Sign() <= 0 {
		return nil, wrapInvalidParameter("lambda must be a positive integer when provided")
	}
	return &Params{N: new(big.Int).Set(n), G: new(big.Int).Set(g), Lambda: cloneOrNil(lambda)}, nil
}

func cloneOrNil(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// normalize reduces v into [0, N).
func (p *Params) normalize(v *big.Int) *big.Int {
	r := new(big.Int).Mod(v, p.N)
	if r.Sign() < 0 {
		r.Add(r, p.N)
	}
	return r
}
