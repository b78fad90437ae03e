package resolver

import (
	entity "github.com/dandalion98/mirrorbot/internal/domain"
)

// AnnotatedEffect effect with the account balance right after it happened.
type AnnotatedEffect struct {
	entity.Effect
	EndBalance entity.BalanceSnapshot
}

// Annotate walks newest-first effects backwards from endBalance, the balance
// after the newest effect. Each effect gets its own copy of the running
// balance, then the running balance is reverse-applied for the next older one.
func Annotate(effects []entity.Effect, endBalance entity.BalanceSnapshot) []AnnotatedEffect {
	if len(effects) == 0 {
		return nil
	}

	running := endBalance.Clone()
	annotated := make([]AnnotatedEffect, 0, len(effects))
	for _, e := range effects {
		annotated = append(annotated, AnnotatedEffect{
			Effect:     e,
			EndBalance: running.Clone(),
		})
		e.Reverse(&running)
	}

	return annotated
}
