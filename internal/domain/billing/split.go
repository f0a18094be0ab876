package billing

// MinSplitParts is the smallest number of children a split may produce
const MinSplitParts = 2

// EqualShares divides total into n parts that differ by at most one unit.
// The first total%n parts carry the extra unit.
func EqualShares(total int64, n int) ([]int64, error) {
	if n < MinSplitParts {
		return nil, NewIntegrityViolation("a split needs at least %d parts", MinSplitParts)
	}
	if total < int64(n) {
		return nil, NewIntegrityViolation("amount %d cannot be divided into %d parts", total, n)
	}
	base := total / int64(n)
	remainder := total % int64(n)
	shares := make([]int64, n)
	for i := range shares {
		shares[i] = base
		if int64(i) < remainder {
			shares[i]++
		}
	}
	return shares, nil
}

// ValidateSplitAmounts checks that amounts are a valid partition of total
func ValidateSplitAmounts(total int64, amounts []int64, minimum int64) error {
	if len(amounts) < MinSplitParts {
		return NewIntegrityViolation("a split needs at least %d parts", MinSplitParts)
	}
	var sum int64
	for i, amount := range amounts {
		if amount <= 0 {
			return NewIntegrityViolation("split part %d must be positive", i+1)
		}
		if amount < minimum {
			return NewIntegrityViolation("split part %d is %d, below the minimum of %d", i+1, amount, minimum)
		}
		sum += amount
	}
	if sum != total {
		return NewIntegrityViolation("split amounts do not sum to the original amount (%d != %d)", sum, total)
	}
	return nil
}
