package rules

import (
	"reflect"
	"strings"
	"testing"

	"github.com/payments/platform/internal/events"
	commonerrors "github.com/payments/platform/pkg/errors"
)

func validPayment() *events.PaymentInitiated {
	return &events.PaymentInitiated{
		PaymentID:     "pay-1",
		OrderID:       "order-1",
		Amount:        "500",
		Currency:      "USD",
		UserID:        "user-1",
		MerchantID:    "merchant-001",
		PaymentMethod: "card",
	}
}

func TestEvaluate_ApprovesValidPayment(t *testing.T) {
	engine := NewEngine()

	verdict := engine.Evaluate(validPayment())

	if !verdict.Approved {
		t.Fatalf("expected approved, got rejections: %v", verdict.RejectionReasons)
	}
	if verdict.RiskScore != 0 {
		t.Fatalf("expected RiskScore=0, got %d", verdict.RiskScore)
	}
	if len(verdict.RejectionReasons) != 0 {
		t.Fatalf("expected no rejection reasons, got %d", len(verdict.RejectionReasons))
	}
}

func TestEvaluate_AmountExceedsLimit(t *testing.T) {
	engine := NewEngine()
	payment := validPayment()
	payment.Amount = "15000"

	verdict := engine.Evaluate(payment)

	if verdict.Approved {
		t.Fatal("expected rejection for amount over limit")
	}
	if !hasCode(verdict, commonerrors.CodeAmountExceedsLimit) {
		t.Fatalf("expected AMOUNT_EXCEEDS_LIMIT, got %v", verdict.RejectionReasons)
	}
}

func TestEvaluate_AmountExactlyAtLimit(t *testing.T) {
	engine := NewEngine()
	payment := validPayment()
	payment.Amount = "10000"

	verdict := engine.Evaluate(payment)

	if hasCode(verdict, commonerrors.CodeAmountExceedsLimit) {
		t.Fatal("amount exactly at limit should not be rejected")
	}
}

func TestEvaluate_InvalidAmountString(t *testing.T) {
	engine := NewEngine()
	payment := validPayment()
	payment.Amount = "not-a-number"

	verdict := engine.Evaluate(payment)

	if verdict.Approved {
		t.Fatal("expected rejection for unparseable amount")
	}
	if !hasCode(verdict, commonerrors.CodeSystemError) {
		t.Fatalf("expected SYSTEM_ERROR, got %v", verdict.RejectionReasons)
	}
	if hasCode(verdict, commonerrors.CodeAmountExceedsLimit) {
		t.Fatalf("parse failure should not look like a limit rejection, got %v", verdict.RejectionReasons)
	}
}

func TestEvaluate_InvalidMerchant(t *testing.T) {
	engine := NewEngine()

	for _, merchant := range []string{"", "ab", "abc"} {
		payment := validPayment()
		payment.MerchantID = merchant

		verdict := engine.Evaluate(payment)

		if verdict.Approved {
			t.Fatalf("expected rejection for merchant %q", merchant)
		}
		if !hasCode(verdict, commonerrors.CodeInvalidMerchant) {
			t.Fatalf("expected INVALID_MERCHANT for %q, got %v", merchant, verdict.RejectionReasons)
		}
	}
}

func TestEvaluate_UnsupportedCurrency(t *testing.T) {
	engine := NewEngine()
	payment := validPayment()
	payment.Currency = "JPY"

	verdict := engine.Evaluate(payment)

	if verdict.Approved {
		t.Fatal("expected rejection for unsupported currency")
	}
	if !hasCode(verdict, commonerrors.CodeInvalidCurrency) {
		t.Fatalf("expected INVALID_CURRENCY, got %v", verdict.RejectionReasons)
	}
}

func TestEvaluate_SupportedCurrencies(t *testing.T) {
	engine := NewEngine()

	for _, currency := range []string{"USD", "EUR", "GBP"} {
		payment := validPayment()
		payment.Currency = currency

		verdict := engine.Evaluate(payment)

		if hasCode(verdict, commonerrors.CodeInvalidCurrency) {
			t.Fatalf("currency %s should be supported", currency)
		}
	}
}

func TestEvaluate_AccumulatesAllFailures(t *testing.T) {
	engine := NewEngine()
	payment := validPayment()
	payment.Amount = "20000"
	payment.MerchantID = "ab"
	payment.Currency = "JPY"

	verdict := engine.Evaluate(payment)

	if verdict.Approved {
		t.Fatal("expected rejection")
	}
	if len(verdict.RejectionReasons) != 3 {
		t.Fatalf("expected 3 accumulated rejections, got %d: %v",
			len(verdict.RejectionReasons), verdict.RejectionReasons)
	}
	for _, code := range []commonerrors.Code{
		commonerrors.CodeAmountExceedsLimit,
		commonerrors.CodeInvalidMerchant,
		commonerrors.CodeInvalidCurrency,
	} {
		if !hasCode(verdict, code) {
			t.Fatalf("expected code %s in %v", code, verdict.RejectionReasons)
		}
	}
}

func TestRiskScore_Tiers(t *testing.T) {
	engine := NewEngine()

	cases := []struct {
		amount string
		method string
		want   int
	}{
		{"500", "card", 0},
		{"1000", "card", 0},
		{"1001", "card", 10},
		{"5000", "card", 10},
		{"5001", "card", 40},
		{"9999", "card", 40},
		{"500", "crypto", 20},
		{"2000", "crypto_wallet", 30},
		{"8000", "crypto", 60},
	}
	for _, tc := range cases {
		payment := validPayment()
		payment.Amount = tc.amount
		payment.PaymentMethod = tc.method

		verdict := engine.Evaluate(payment)

		if verdict.RiskScore != tc.want {
			t.Fatalf("amount=%s method=%s: expected risk %d, got %d",
				tc.amount, tc.method, tc.want, verdict.RiskScore)
		}
	}
}

func TestRiskScore_MonotoneInAmount(t *testing.T) {
	engine := NewEngine()

	amounts := []string{"100", "1000", "1500", "5000", "6000", "9999"}
	prev := -1
	for _, amount := range amounts {
		payment := validPayment()
		payment.Amount = amount

		verdict := engine.Evaluate(payment)

		if verdict.RiskScore < prev {
			t.Fatalf("risk score decreased at amount %s: %d < %d", amount, verdict.RiskScore, prev)
		}
		prev = verdict.RiskScore
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	engine := NewEngine()
	payment := validPayment()
	payment.Amount = "20000"
	payment.Currency = "JPY"

	first := engine.Evaluate(payment)
	for i := 0; i < 10; i++ {
		if got := engine.Evaluate(payment); !reflect.DeepEqual(first, got) {
			t.Fatalf("evaluation not deterministic: %v vs %v", first, got)
		}
	}
}

func TestVerdict_Reason(t *testing.T) {
	engine := NewEngine()
	payment := validPayment()
	payment.Amount = "15000"
	payment.Currency = "JPY"

	verdict := engine.Evaluate(payment)
	reason := verdict.Reason()

	if reason == "" {
		t.Fatal("expected non-empty reason")
	}
	for _, code := range []string{"AMOUNT_EXCEEDS_LIMIT", "INVALID_CURRENCY"} {
		if !strings.Contains(reason, code) {
			t.Fatalf("expected reason to contain %s, got %q", code, reason)
		}
	}
}

func hasCode(v *Verdict, code commonerrors.Code) bool {
	for _, r := range v.RejectionReasons {
		if r.Code == code {
			return true
		}
	}
	return false
}
