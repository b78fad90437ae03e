package domain

// Action represents what a target effect means for the mirror.
type Action int

const (
	ActionIgnored Action = iota
	// ActionOpenPosition target spent native to acquire an issued asset.
	ActionOpenPosition
	// ActionClosePosition target sold an issued asset back into native.
	ActionClosePosition
)

// action string constants to avoid magic strings
const (
	actionStringIgnored       = "ignored"
	actionStringOpenPosition  = "open_position"
	actionStringClosePosition = "close_position"
)

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case ActionOpenPosition:
		return actionStringOpenPosition
	case ActionClosePosition:
		return actionStringClosePosition
	case ActionIgnored:
		return actionStringIgnored
	default:
		return "unknown"
	}
}

// Classify decides whether an effect opens or closes a position.
// Trades with a non-positive amount on either side are rejected with ErrInvalidEffect.
func Classify(e Effect) (Action, error) {
	if e.Kind != EffectTrade {
		return ActionIgnored, nil
	}
	if err := e.Validate(); err != nil {
		return ActionIgnored, err
	}

	switch {
	case e.SoldAsset.IsNative() && !e.BoughtAsset.IsNative():
		return ActionOpenPosition, nil
	case !e.SoldAsset.IsNative() && e.BoughtAsset.IsNative():
		return ActionClosePosition, nil
	default:
		return ActionIgnored, nil
	}
}
