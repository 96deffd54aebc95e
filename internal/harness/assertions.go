package harness

import (
	"context"
	"fmt"
	"math"

	"github.com/permafrost-labs/glacier/internal/staking"
	"github.com/permafrost-labs/glacier/internal/store"
)

// balanceEpsilon bounds the float drift tolerated by balance
// assertions. Scenario authors write expected values to at most nine
// decimal places.
const balanceEpsilon = 1e-9

// AssertionContext carries the state the evaluator reads.
type AssertionContext struct {
	Store   *store.Store
	Staking *staking.Engine
	Ctx     context.Context
}

// EvaluateAssertions checks every assertion against final state and
// returns one message per failure. An empty slice means all passed.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if msg := evaluateAssertion(i, a, actx); msg != "" {
			failures = append(failures, msg)
		}
	}
	return failures
}

func evaluateAssertion(index int, a Assertion, actx *AssertionContext) string {
	switch a.Type {
	case AssertLiquidBalance:
		got, err := actx.Store.LiquidBalance(actx.Ctx, a.User)
		return compareBalance(index, a.Type, a.User, a.Expect, got, err)

	case AssertLockedBalance:
		got, err := actx.Store.LockedBalance(actx.Ctx, a.User)
		return compareBalance(index, a.Type, a.User, a.Expect, got, err)

	case AssertPoolBalance:
		got, err := actx.Store.PoolBalance(actx.Ctx, a.Pool)
		return compareBalance(index, a.Type, a.Pool, a.Expect, got, err)

	case AssertReceiptCount:
		receipts, err := actx.Store.ListReceipts(actx.Ctx, a.User)
		if err != nil {
			return fmt.Sprintf("assertions[%d] %s: %v", index, a.Type, err)
		}
		count := 0
		for _, r := range receipts {
			if a.Kind == "" || r.Kind == a.Kind {
				count++
			}
		}
		if count != a.Count {
			return fmt.Sprintf("assertions[%d] receipt_count: user %s kind %q: expected %d, got %d",
				index, a.User, a.Kind, a.Count, count)
		}

	case AssertReceiptOrder:
		receipts, err := actx.Store.ListReceipts(actx.Ctx, a.User)
		if err != nil {
			return fmt.Sprintf("assertions[%d] %s: %v", index, a.Type, err)
		}
		kinds := make([]string, len(receipts))
		for i, r := range receipts {
			kinds[i] = r.Kind
		}
		if !equalStrings(kinds, a.Kinds) {
			return fmt.Sprintf("assertions[%d] receipt_order: user %s: expected %v, got %v",
				index, a.User, a.Kinds, kinds)
		}

	case AssertOpenPositions:
		open, err := actx.Staking.Positions(actx.Ctx, a.User)
		if err != nil {
			return fmt.Sprintf("assertions[%d] %s: %v", index, a.Type, err)
		}
		if len(open) != a.Count {
			return fmt.Sprintf("assertions[%d] open_positions: user %s: expected %d, got %d",
				index, a.User, a.Count, len(open))
		}

	default:
		return fmt.Sprintf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return ""
}

func compareBalance(index int, kind, subject string, want, got float64, err error) string {
	if err != nil {
		return fmt.Sprintf("assertions[%d] %s: %v", index, kind, err)
	}
	if math.Abs(got-want) > balanceEpsilon {
		return fmt.Sprintf("assertions[%d] %s: %s: expected %v, got %v",
			index, kind, subject, want, got)
	}
	return ""
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
