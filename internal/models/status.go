package models

import "strings"

// DiscussionStatus represents the lifecycle state of a discussion.
type DiscussionStatus string

const (
	DiscussionCreated           DiscussionStatus = "CREATED"
	DiscussionInProgress        DiscussionStatus = "IN_PROGRESS"
	DiscussionAwaitingExecution DiscussionStatus = "AWAITING_EXECUTION"
	DiscussionDecided           DiscussionStatus = "DECIDED"
	DiscussionClosed            DiscussionStatus = "CLOSED"
)

// IsTerminal reports whether the discussion can no longer change.
func (s DiscussionStatus) IsTerminal() bool {
	return s == DiscussionDecided || s == DiscussionClosed
}

// ParseDiscussionStatus normalises a raw status string into the canonical
// enum. Unknown values map to CREATED so that readers tolerate old records.
func ParseDiscussionStatus(raw string) DiscussionStatus {
	switch DiscussionStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case DiscussionInProgress:
		return DiscussionInProgress
	case DiscussionAwaitingExecution:
		return DiscussionAwaitingExecution
	case DiscussionDecided:
		return DiscussionDecided
	case DiscussionClosed:
		return DiscussionClosed
	default:
		return DiscussionCreated
	}
}

// ItemStatus represents the evaluation state of a checklist item.
type ItemStatus string

const (
	ItemPending         ItemStatus = "PENDING"
	ItemApproved        ItemStatus = "APPROVED"
	ItemRejected        ItemStatus = "REJECTED"
	ItemReviseRequired  ItemStatus = "REVISE_REQUIRED"
	ItemAcceptRejection ItemStatus = "ACCEPT_REJECTION"
	ItemResubmitted     ItemStatus = "RESUBMITTED"
)

// IsTerminal reports whether the item needs no further manager attention.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemApproved || s == ItemRejected || s == ItemAcceptRejection
}

// ValidItemStatus reports whether the value is a member of the enum.
func ValidItemStatus(s ItemStatus) bool {
	switch s {
	case ItemPending, ItemApproved, ItemRejected, ItemReviseRequired, ItemAcceptRejection, ItemResubmitted:
		return true
	}
	return false
}

// ParseItemStatus normalises a raw item status; empty defaults to PENDING.
func ParseItemStatus(raw string) (ItemStatus, bool) {
	s := ItemStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if s == "" {
		return ItemPending, true
	}
	return s, ValidItemStatus(s)
}

// ActionType represents the kind of trade an item proposes.
type ActionType string

const (
	ActionBuy  ActionType = "BUY"
	ActionSell ActionType = "SELL"
	ActionHold ActionType = "HOLD"
)

// ValidActionType reports whether the value is a member of the enum.
func ValidActionType(a ActionType) bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

// ParseActionType normalises a raw action string.
func ParseActionType(raw string) (ActionType, bool) {
	a := ActionType(strings.ToUpper(strings.TrimSpace(raw)))
	return a, ValidActionType(a)
}

// RoleManager is the single privileged role per sector; every other role
// string denotes a worker.
const RoleManager = "manager"
