package transfer

import (
	"errors"
	"fmt"
)

// Code classifies a transfer failure for callers.
type Code string

const (
	// CodeValidation means an item, branch or user check failed.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeInvalidState means the order is no longer PENDING. Not retryable.
	CodeInvalidState Code = "INVALID_STATE_TRANSITION"
	// CodeContention means storage locks could not be acquired in time.
	// The request left no partial effect and may be retried.
	CodeContention Code = "CONTENTION"
	// CodeNotFound means the order, asset or branch does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeForbidden means the actor may not perform the operation.
	CodeForbidden Code = "FORBIDDEN"
)

// Rule names a single eligibility rule.
type Rule string

// Eligibility rules reported in violations.
const (
	RuleNoItems              Rule = "NO_ITEMS"
	RuleInvalidOrderType     Rule = "INVALID_ORDER_TYPE"
	RuleItemNotFound         Rule = "ITEM_NOT_FOUND"
	RuleItemWrongBranch      Rule = "ITEM_WRONG_BRANCH"
	RuleItemLocked           Rule = "ITEM_LOCKED"
	RuleItemAlreadyPending   Rule = "ITEM_ALREADY_PENDING"
	RuleItemDuplicate        Rule = "ITEM_DUPLICATE"
	RuleItemKindMismatch     Rule = "ITEM_KIND_MISMATCH"
	RuleInvalidQuantity      Rule = "INVALID_QUANTITY"
	RuleInsufficientStock    Rule = "INSUFFICIENT_STOCK"
	RuleBranchNotFound       Rule = "BRANCH_NOT_FOUND"
	RuleBranchInactive       Rule = "BRANCH_INACTIVE"
	RuleSameBranch           Rule = "SAME_BRANCH"
	RuleBranchPairNotAllowed Rule = "BRANCH_PAIR_NOT_ALLOWED"
	RuleNotAuthorized        Rule = "NOT_AUTHORIZED_FOR_BRANCH"
	RuleItemAlreadyReceived  Rule = "ITEM_ALREADY_RECEIVED"
	RuleReasonRequired       Rule = "REJECTION_REASON_REQUIRED"
)

// Violation is one failed check. Subject is the serial number, item type
// or branch the failure is about.
type Violation struct {
	Rule    Rule   `json:"rule"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

// Error is the typed failure returned by the orchestrator and the
// lifecycle handler.
type Error struct {
	Op         string
	Code       Code
	Message    string
	Errors     []string
	Warnings   []string
	Violations []Violation
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the same request may succeed if sent again.
func (e *Error) Retryable() bool {
	return e != nil && e.Code == CodeContention
}

// CodeOf returns the code of a transfer error in err's chain, or "".
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// HasRule reports whether err carries a violation of rule.
func HasRule(err error, rule Rule) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	for _, v := range te.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

func newError(op string, code Code, message string) *Error {
	return &Error{Op: op, Code: code, Message: message}
}

func validationError(op string, res Result) *Error {
	msg := "transfer order is not valid"
	if len(res.Errors) > 0 {
		msg = res.Errors[0]
	}
	return &Error{
		Op:         op,
		Code:       CodeValidation,
		Message:    msg,
		Errors:     res.Errors,
		Warnings:   res.Warnings,
		Violations: res.Violations,
	}
}
