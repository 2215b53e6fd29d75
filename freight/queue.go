package freight

// =============================================================================
// PAYMENT QUEUES
// =============================================================================
// Queues are recomputed from the full collection on every call. A trip
// leaves a queue because its predicate fails, never because it was seen.

// InAdvanceQueue reports whether the advance installment needs attention.
func InAdvanceQueue(t Trip) bool {
	return t.Payment(FieldAdvance).InProgress()
}

// InBalanceQueue reports whether the balance installment needs attention:
// it is in progress, or the advance is Paid and the balance is not.
func InBalanceQueue(t Trip) bool {
	balance := t.Payment(FieldBalance)
	if balance.InProgress() {
		return true
	}
	return t.Payment(FieldAdvance) == PaymentPaid && !balance.Terminal()
}

// InPaymentHistory reports whether any installment has been paid.
func InPaymentHistory(t Trip) bool {
	return t.Payment(FieldAdvance) == PaymentPaid || t.Payment(FieldBalance) == PaymentPaid
}

// AdvanceQueue returns the trips awaiting advance payment.
func AdvanceQueue(trips []Trip) []Trip {
	return filterTrips(trips, InAdvanceQueue)
}

// BalanceQueue returns the trips awaiting balance payment.
func BalanceQueue(trips []Trip) []Trip {
	return filterTrips(trips, InBalanceQueue)
}

// PaymentHistory returns the trips with at least one paid installment.
func PaymentHistory(trips []Trip) []Trip {
	return filterTrips(trips, InPaymentHistory)
}

func filterTrips(trips []Trip, keep func(Trip) bool) []Trip {
	out := make([]Trip, 0, len(trips))
	for _, t := range trips {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}
