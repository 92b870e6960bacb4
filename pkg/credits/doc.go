// Package credits implements the credit ledger: a single non-negative
// counter on the user row, decremented once per metered action and
// incremented by the billing reconciler when credit packs are paid.
//
//	if err := ledger.Spend(ctx, user.ID); errors.Is(err, credits.ErrInsufficientCredits) {
//		// 402 NO_CREDITS
//	}
//
// There is no read-then-write: the floor is enforced by the UPDATE's WHERE
// clause and by the CHECK (credits >= 0) constraint on the column.
package credits
