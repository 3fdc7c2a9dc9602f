package shop

type OrderStatus string

const (
	OrderWaitingPayment OrderStatus = "waiting_payment"
	OrderFinalized      OrderStatus = "finalized"
	OrderCancelled      OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
)

var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:   {PaymentCompleted: true, PaymentCancelled: true, PaymentFailed: true},
	PaymentCompleted: {PaymentRefunded: true},
	PaymentFailed:    {},
	PaymentRefunded:  {},
	PaymentCancelled: {},
}

func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}

// DefaultCompensation is the status a settled payment moves to when no
// target is given: Completed is refunded, Pending is cancelled.
func DefaultCompensation(from PaymentStatus) (PaymentStatus, bool) {
	switch from {
	case PaymentCompleted:
		return PaymentRefunded, true
	case PaymentPending:
		return PaymentCancelled, true
	}
	return "", false
}

type PaymentMethod string

const (
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodPayPal       PaymentMethod = "paypal"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodBalance      PaymentMethod = "balance"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCreditCard, MethodPayPal, MethodBankTransfer, MethodBalance:
		return true
	}
	return false
}

type PromotionStatus string

const (
	PromotionPending PromotionStatus = "pending"
	PromotionActive  PromotionStatus = "active"
	PromotionExpired PromotionStatus = "expired"
)

type RoleStatus string

const (
	RolePending RoleStatus = "pending"
	RoleActive  RoleStatus = "active"
	RoleExpired RoleStatus = "expired"
)

type HistoryType string

const (
	HistoryBalance        HistoryType = "user_balance"
	HistoryRefund         HistoryType = "user_refund"
	HistoryPaymentCreate  HistoryType = "payment_create"
	HistoryPaymentSuccess HistoryType = "payment_success"
	HistoryPaymentFail    HistoryType = "payment_fail"
)
