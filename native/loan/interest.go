package loan

import "math/big"

const secondsPerYear = 31_536_000

var basisPoints = big.NewInt(10_000)

// RequiredCollateral returns principal scaled by ratioBps with truncating
// division. At the default 15000 bps this is exactly 150% of the principal.
func RequiredCollateral(principal *big.Int, ratioBps uint64) *big.Int {
	if principal == nil || principal.Sign() <= 0 {
		return big.NewInt(0)
	}
	required := new(big.Int).Mul(principal, new(big.Int).SetUint64(ratioBps))
	return required.Quo(required, basisPoints)
}

// amountOwed computes principal plus linearly accrued interest after elapsed
// seconds:
//
//	owed = principal + principal*rateBps*elapsed/(secondsPerYear*10000)
//
// Division floors, there is no compounding, and a non-positive elapsed time
// owes exactly the principal.
func amountOwed(principal *big.Int, rateBps uint64, elapsedSeconds int64) *big.Int {
	owed := new(big.Int)
	if principal == nil || principal.Sign() <= 0 {
		return owed
	}
	owed.Set(principal)
	if rateBps == 0 || elapsedSeconds <= 0 {
		return owed
	}
	interest := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	interest.Mul(interest, big.NewInt(elapsedSeconds))
	interest.Quo(interest, new(big.Int).Mul(big.NewInt(secondsPerYear), basisPoints))
	return owed.Add(owed, interest)
}
