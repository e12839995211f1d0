package ledger

import (
	"fmt"
	"math"
)

func addAmounts(left int64, right int64) (int64, error) {
	if (right > 0 && left > math.MaxInt64-right) || (right < 0 && left < math.MinInt64-right) {
		return 0, fmt.Errorf("%w: %d + %d", ErrArithmeticOverflow, left, right)
	}
	return left + right, nil
}

func subtractAmounts(left int64, right int64) (int64, error) {
	if (right < 0 && left > math.MaxInt64+right) || (right > 0 && left < math.MinInt64+right) {
		return 0, fmt.Errorf("%w: %d - %d", ErrArithmeticOverflow, left, right)
	}
	return left - right, nil
}

func sumRequests(requests []TransferRequest) (int64, error) {
	var total int64
	for _, request := range requests {
		next, err := addAmounts(total, request.Amount)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}
