// Package types provides common type definitions for the dividend service.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ScopeAll is the label used in cache keys and responses for an omitted scope component
const ScopeAll = "all"

// QueryScope selects which subnets and accounts a dividend query covers.
// A nil NetUID means every configured subnet; a nil Hotkey means every account.
type QueryScope struct {
	NetUID *int
	Hotkey *string
}

// NewQueryScope builds a scope from optional components, copying them so the
// scope cannot be mutated through the caller's pointers
func NewQueryScope(netuid *int, hotkey *string) QueryScope {
	var scope QueryScope
	if netuid != nil {
		n := *netuid
		scope.NetUID = &n
	}
	if hotkey != nil && *hotkey != "" {
		h := *hotkey
		scope.Hotkey = &h
	}
	return scope
}

// NetUIDLabel returns the subnet id as a string, or "all"
func (s QueryScope) NetUIDLabel() string {
	if s.NetUID == nil {
		return ScopeAll
	}
	return strconv.Itoa(*s.NetUID)
}

// HotkeyLabel returns the account id, or "all"
func (s QueryScope) HotkeyLabel() string {
	if s.Hotkey == nil {
		return ScopeAll
	}
	return *s.Hotkey
}

// CacheKey derives the deterministic cache key for this scope.
// Format: dividends:<netuid|all>:<hotkey|all>
func (s QueryScope) CacheKey() string {
	return fmt.Sprintf("dividends:%s:%s", s.NetUIDLabel(), s.HotkeyLabel())
}

// SubnetLabel returns the result key used for a subnet inside an aggregate
func SubnetLabel(netuid int) string {
	return fmt.Sprintf("netuid_%d", netuid)
}

// SubnetDividends maps account id to dividend value for one subnet
type SubnetDividends map[string]uint64

// DividendAggregate is the result of one dividend query.
// PerSubnet only contains subnets with at least one matching account.
type DividendAggregate struct {
	PerSubnet       map[string]SubnetDividends
	Scope           QueryScope
	ServedFromCache bool
}

// dividendAggregateJSON is the wire format: {results, netuid, hotkey, cached}
type dividendAggregateJSON struct {
	Results map[string]SubnetDividends `json:"results"`
	NetUID  json.RawMessage            `json:"netuid"`
	Hotkey  string                     `json:"hotkey"`
	Cached  bool                       `json:"cached"`
}

// MarshalJSON renders netuid as a number, or "all" when omitted
func (a DividendAggregate) MarshalJSON() ([]byte, error) {
	results := a.PerSubnet
	if results == nil {
		results = map[string]SubnetDividends{}
	}

	netuid := json.RawMessage(`"all"`)
	if a.Scope.NetUID != nil {
		netuid = json.RawMessage(strconv.Itoa(*a.Scope.NetUID))
	}

	return json.Marshal(dividendAggregateJSON{
		Results: results,
		NetUID:  netuid,
		Hotkey:  a.Scope.HotkeyLabel(),
		Cached:  a.ServedFromCache,
	})
}

// UnmarshalJSON accepts the format produced by MarshalJSON
func (a *DividendAggregate) UnmarshalJSON(data []byte) error {
	var raw dividendAggregateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var scope QueryScope
	if len(raw.NetUID) > 0 && string(raw.NetUID) != "null" {
		var label string
		if err := json.Unmarshal(raw.NetUID, &label); err == nil {
			if label != ScopeAll {
				return fmt.Errorf("invalid netuid label %q", label)
			}
		} else {
			var n int
			if err := json.Unmarshal(raw.NetUID, &n); err != nil {
				return fmt.Errorf("invalid netuid: %w", err)
			}
			scope.NetUID = &n
		}
	}
	if raw.Hotkey != "" && raw.Hotkey != ScopeAll {
		h := raw.Hotkey
		scope.Hotkey = &h
	}

	a.PerSubnet = raw.Results
	if a.PerSubnet == nil {
		a.PerSubnet = map[string]SubnetDividends{}
	}
	a.Scope = scope
	a.ServedFromCache = raw.Cached
	return nil
}

// JobNameAnalyzeSentiment is the queue name of the sentiment trade job
const JobNameAnalyzeSentiment = "analyze_sentiment_and_trade"

// SentimentJob is a unit of background work: analyze a subnet and trade on the result
type SentimentJob struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	NetUID      int       `json:"netuid"`
	Hotkey      string    `json:"hotkey"`
	RequestedAt time.Time `json:"requestedAt"`
}

// OutcomeStatus is the terminal status of a sentiment job
type OutcomeStatus string

const (
	// OutcomeSuccess means the ledger mutation was issued
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeNoData means no signal items were found and nothing was traded
	OutcomeNoData OutcomeStatus = "no_data"
	// OutcomeError means a step failed; ErrorDetail holds the message
	OutcomeError OutcomeStatus = "error"
)

// Operation is a ledger stake mutation
type Operation string

const (
	// OperationStake adds stake to a hotkey on a subnet
	OperationStake Operation = "stake"
	// OperationUnstake removes stake from a hotkey on a subnet
	OperationUnstake Operation = "unstake"
)

// SentimentOutcome is the terminal record of one sentiment job
type SentimentOutcome struct {
	JobID          string        `json:"jobId,omitempty"`
	Status         OutcomeStatus `json:"status"`
	NetUID         int           `json:"netuid"`
	Hotkey         string        `json:"hotkey"`
	Operation      *Operation    `json:"operation,omitempty"`
	Amount         *float64      `json:"amount,omitempty"`
	SentimentScore *float64      `json:"sentiment_score,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	ErrorDetail    *string       `json:"error,omitempty"`
	CompletedAt    time.Time     `json:"completedAt"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
