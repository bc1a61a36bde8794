package accumulator

import "math/big"

// Add folds one new member into the accumulator: A' = A^p mod N. Public
// exponent, so variable-time modexp is acceptable.
func (p *Params) Add(a, prime *big.Int) (*big.Int, error) {
	if a == nil || a.Sign() <= 0 {
		return nil, wrapInvalidParameter("A must be positive")
	}
	if prime == nil || prime.Sign() <= 0 {
		return nil, wrapInvalidParameter("prime must be positive")
	}
	return new(big.Int).Exp(a, prime, p.N), nil
}

// RecomputeRoot returns g^(∏ primes) mod N, for cold-start reconstruction
// and order-independence checks.
func (p *Params) RecomputeRoot(primes []*big.Int) (*big.Int, error) {
	product := big.NewInt(1)
	for _, prime := range primes {
		if prime == nil || prime.Sign() <= 0 {
			return nil, wrapInvalidParameter("all primes must be positive")
		}
		product.Mul(product, prime)
	}
	return new(big.Int).Exp(p.G, product, p.N), nil
}

// Witness returns g^(∏ primes\{target}) mod N, the value w such that
// w^target ≡ RecomputeRoot(primes) (mod N).
func (p *Params) Witness(primes []*big.Int, target *big.Int) (*big.Int, error) {
	if target == nil || target.Sign() <= 0 {
		return nil, wrapInvalidParameter("target must be positive")
	}
	product := big.NewInt(1)
	found := false
	for _, prime := range primes {
		if prime == nil || prime.Sign() <= 0 {
			return nil, wrapInvalidParameter("all primes must be positive")
		}
		if !found && prime.Cmp(target) == 0 {
			found = true
			continue
		}
		product.Mul(product, prime)
	}
	if !found {
		return nil, wrapInvalidParameter("target is not a member of primes")
	}
	return new(big.Int).Exp(p.G, product, p.N), nil
}

// Verify reports whether w^prime ≡ root (mod N). Constant-time equality is
// not required: the values are all public.
func (p *Params) Verify(w, prime, root *big.Int) bool {
	if w == nil || prime == nil || root == nil {
		return false
	}
	if w.Sign() <= 0 || prime.Sign() <= 0 {
		return false
	}
	got := new(big.Int).Exp(w, prime, p.N)
	return got.Cmp(p.normalize(root)) == 0
}

// TrapdoorRemove returns A^(p⁻¹ mod λ) mod N in O(1) modular exponentiation,
// with no enumeration of the remaining primes. Requires gcd(p, λ) == 1.
func (p *Params) TrapdoorRemove(a, prime *big.Int) (*big.Int, error) {
	if p.Lambda == nil {
		return nil, wrapInvalidParameter("trapdoor unavailable")
	}
	if a == nil || a.Sign() <= 0 {
		return nil, wrapInvalidParameter("A must be positive")
	}
	inv, err := modInverse(prime, p.Lambda)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Exp(a, inv, p.N), nil
}

// TrapdoorBatchRemove computes e = (∏P mod λ)⁻¹ mod λ and returns A^e mod N,
// semantically equivalent to sequential TrapdoorRemove calls but with one
// modexp instead of len(P).
func (p *Params) TrapdoorBatchRemove(a *big.Int, primes []*big.Int) (*big.Int, error) {
	if p.Lambda == nil {
		return nil, wrapInvalidParameter("trapdoor unavailable")
	}
	if a == nil || a.Sign() <= 0 {
		return nil, wrapInvalidParameter("A must be positive")
	}
	if len(primes) == 0 {
		return nil, wrapInvalidParameter("primes must be non-empty")
	}
	product := big.NewInt(1)
	for _, prime := range primes {
		if prime == nil || prime.Sign() <= 0 {
			return nil, wrapInvalidParameter("all primes must be positive")
		}
		product.Mul(product, prime)
		product.Mod(product, p.Lambda)
	}
	inv, err := modInverse(product, p.Lambda)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Exp(a, inv, p.N), nil
}

// RefreshWitnessOnAdd returns w_old^p_new mod N, valid whenever p_new was
// just folded into the set the witness was computed against.
func (p *Params) RefreshWitnessOnAdd(wOld, pNew *big.Int) (*big.Int, error) {
	if wOld == nil || wOld.Sign() <= 0 {
		return nil, wrapInvalidParameter("witness must be positive")
	}
	if pNew == nil || pNew.Sign() <= 0 {
		return nil, wrapInvalidParameter("new prime must be positive")
	}
	return new(big.Int).Exp(wOld, pNew, p.N), nil
}

// RefreshWitnessOnRemove recomputes a surviving member's witness after a
// trapdoor removal, in O(1): newRoot is the accumulator's value after the
// removal (newRoot = g^(∏survivors), survivors including pSelf), and the
// refreshed witness is newRoot^(pSelf⁻¹ mod λ) mod N = g^(∏survivors \
// {pSelf}) mod N — the same trapdoor shortcut TrapdoorRemove itself uses to
// pull a member out of the root without recomputing from the full member
// set. This is why Lambda is required here: unlike RefreshWitnessOnAdd,
// which only ever multiplies exponents, undoing one factor needs its
// modular inverse.
func (p *Params) RefreshWitnessOnRemove(newRoot, pSelf *big.Int) (*big.Int, error) {
	if p.Lambda == nil {
		return nil, wrapInvalidParameter("trapdoor unavailable")
	}
	if newRoot == nil || newRoot.Sign() <= 0 {
		return nil, wrapInvalidParameter("newRoot must be positive")
	}
	if pSelf == nil || pSelf.Sign() <= 0 {
		return nil, wrapInvalidParameter("pSelf must be positive")
	}
	inv, err := modInverse(pSelf, p.Lambda)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Exp(newRoot, inv, p.N), nil
}

// modInverse computes p⁻¹ mod λ, requiring gcd(p, λ) == 1 (otherwise the
// NotCoprime failure mode). The exponent is secret-adjacent (derived from λ)
// so this is not exercised on a chosen-plaintext-sensitive path elsewhere in
// the engine; big.Int.ModInverse itself runs in variable time, which is
// acceptable here because λ is process-local and never derived from
// attacker-controlled timing-observable input.
func modInverse(prime, lambda *big.Int) (*big.Int, error) {
	if prime == nil || prime.Sign() <= 0 {
		return nil, wrapInvalidParameter("prime must be positive")
	}
	inv := new(big.Int).ModInverse(prime, lambda)
	if inv == nil {
		return nil, wrapNotCoprime("gcd(prime, lambda) != 1")
	}
	return inv, nil
}
