// Package payments holds the purchasable plans, invoice submission, and the
// handlers for payment events delivered by the Telegram transport.
package payments

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownPlan rejects purchases outside the fixed plan table.
var ErrUnknownPlan = errors.New("payments: unknown plan")

// Plan describes a purchasable access tier. The table is policy data; amounts
// are minor currency units (kopeks).
type Plan struct {
	Days    int
	Amount  int
	Payload string
}

var plans = []Plan{
	{Days: 1, Amount: 29_900, Payload: "premium_1d"},
	{Days: 30, Amount: 150_000, Payload: "premium_30d"},
}

// Plans returns the purchasable plan table.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// PlanForDays resolves a plan by day count. Day counts outside the allow-list
// fail with ErrUnknownPlan; callers must reject them before touching the
// payment transport.
func PlanForDays(days int) (Plan, error) {
	for _, plan := range plans {
		if plan.Days == days {
			return plan, nil
		}
	}

	return Plan{}, fmt.Errorf("%w: %d days", ErrUnknownPlan, days)
}

// DaysFromPayload decodes the purchased day count from an invoice payload of
// the form "<tier>_<n>d" (e.g. "premium_30d").
func DaysFromPayload(payload string) (int, error) {
	payload = strings.TrimSpace(payload)

	idx := strings.LastIndex(payload, "_")
	if idx < 0 || !strings.HasSuffix(payload, "d") {
		return 0, fmt.Errorf("%w: payload %q", ErrUnknownPlan, payload)
	}

	days, err := strconv.Atoi(payload[idx+1 : len(payload)-1])
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("%w: payload %q", ErrUnknownPlan, payload)
	}

	return days, nil
}
