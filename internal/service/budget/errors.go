package budget

import "errors"

// Sentinel errors for the budget service layer.
var (
	ErrUnknownActionType = errors.New("unknown action type")
)
