package service

import (
	"context"
	"math"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/types"
)

// Property: with no netuid the aggregate only names configured subnets, and
// only those holding at least one account
func TestProperty_AggregateKeysAreNonEmptyConfiguredSubnets(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("subnet keys are a subset of 1..N with no empty subnets", prop.ForAll(
		func(numSubnets int, populated []int, failing []int) bool {
			ledger := newFakeLedger(headBlock)
			account, _ := testAccount(t, 7)
			// populated may name subnets outside the configured range
			for _, netuid := range populated {
				ledger.put(headBlock, netuid, dividendEntry(t, netuid, account, uint64(netuid)))
			}
			for _, netuid := range failing {
				ledger.failing[netuid] = context.DeadlineExceeded
			}

			engine := NewChainQueryEngine(ledger, numSubnets, logging.NewNopLogger())
			agg, err := engine.Query(context.Background(), types.QueryScope{})
			if err != nil {
				return false
			}

			allowed := map[string]bool{}
			for n := 1; n <= numSubnets; n++ {
				allowed[types.SubnetLabel(n)] = true
			}
			for label, accounts := range agg.PerSubnet {
				if !allowed[label] || len(accounts) == 0 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 32),
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.SliceOf(gen.IntRange(1, 32)),
	))

	properties.TestingRun(t)
}

// Property: every value in one aggregate comes from the head block
func TestProperty_SingleSnapshotPerQuery(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("head block is read once and all values come from it", prop.ForAll(
		func(numSubnets int, headValue, staleValue uint64) bool {
			ledger := newFakeLedger(headBlock)
			account, addr := testAccount(t, 9)
			for n := 1; n <= numSubnets; n++ {
				ledger.put(headBlock, n, dividendEntry(t, n, account, headValue))
				ledger.put("0xstale", n, dividendEntry(t, n, account, staleValue))
			}

			engine := NewChainQueryEngine(ledger, numSubnets, logging.NewNopLogger())
			agg, err := engine.Query(context.Background(), types.QueryScope{})
			if err != nil || ledger.headCalls != 1 {
				return false
			}
			for _, accounts := range agg.PerSubnet {
				if accounts[addr] != headValue {
					return false
				}
			}
			return len(agg.PerSubnet) == numSubnets
		},
		gen.IntRange(1, 20),
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

// Property: the decision is a pure function of the score
func TestProperty_DecisionDeterminism(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("amount is |score|/100 and only positive scores stake", prop.ForAll(
		func(score float64) bool {
			op1, amount1 := Decide(score)
			op2, amount2 := Decide(score)
			if op1 != op2 || amount1 != amount2 {
				return false
			}
			if math.Abs(amount1-math.Abs(score)*0.01) > 1e-12 {
				return false
			}
			if score > 0 {
				return op1 == types.OperationStake
			}
			return op1 == types.OperationUnstake
		},
		gen.Float64Range(-100, 100),
	))

	properties.TestingRun(t)
}

// Property: any number in the completion is clamped into range
func TestProperty_ScoreClamping(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("parsed scores stay within [-100, 100]", prop.ForAll(
		func(v int64) bool {
			text := "Score: " + strconv.FormatInt(v, 10) + " overall"
			got := ParseScore(text)
			if got < MinSentimentScore || got > MaxSentimentScore {
				return false
			}
			return got == ClampScore(float64(v))
		},
		gen.Int64Range(-100000, 100000),
	))

	properties.TestingRun(t)
}
