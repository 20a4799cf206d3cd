package model

import (
	"strings"

	apperrors "github.com/homeshield/aegis/internal/errors"
)

// ActionKind tags the security action a scheduled task performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ActionKind string

const (
	// ActionArmSystem arms the security system in a given mode.
	ActionArmSystem ActionKind = "ARM_SYSTEM"
	// ActionDisarmSystem disarms the security system.
	ActionDisarmSystem ActionKind = "DISARM_SYSTEM"
)

// Valid returns true if the ActionKind is recognized.
func (k ActionKind) Valid() bool {
	return k == ActionArmSystem || k == ActionDisarmSystem
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ActionKind) UnmarshalText(text []byte) error {
	v := ActionKind(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return apperrors.ValidationField("action", "invalid action kind: "+string(text))
	}
	*k = v
	return nil
}

// ArmMode selects how the system is armed.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ArmMode string

const (
	// ArmModeAway arms all zones for an empty home.
	ArmModeAway ArmMode = "away"
	// ArmModeStay arms perimeter zones while the home is occupied.
	ArmModeStay ArmMode = "stay"
)

// Valid returns true if the ArmMode is recognized.
func (m ArmMode) Valid() bool {
	return m == ArmModeAway || m == ArmModeStay
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ArmMode) UnmarshalText(text []byte) error {
	v := ArmMode(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return apperrors.ValidationField("mode", "invalid arm mode: "+string(text))
	}
	*m = v
	return nil
}

// ArmParams are the parameters of an ARM_SYSTEM action.
type ArmParams struct {
	Mode    ArmMode  `json:"mode"`
	ZoneIDs []string `json:"zone_ids,omitempty"`
}

// DisarmParams are the parameters of a DISARM_SYSTEM action.
type DisarmParams struct {
	ZoneIDs []string `json:"zone_ids,omitempty"`
}

// Action is the tagged sum of the supported security actions: the kind
// selects which parameter record is populated. Consumers that do not care
// about the parameters hand the whole value to the dispatcher opaquely.
type Action struct {
	Kind   ActionKind    `json:"kind"`
	Arm    *ArmParams    `json:"arm,omitempty"`
	Disarm *DisarmParams `json:"disarm,omitempty"`
}

// NewArmAction builds an ARM_SYSTEM action, validating the mode and zone ids.
func NewArmAction(mode ArmMode, zoneIDs []string) (Action, error) {
	action := Action{
		Kind: ActionArmSystem,
		Arm:  &ArmParams{Mode: mode, ZoneIDs: zoneIDs},
	}
	if err := action.Validate(); err != nil {
		return Action{}, err
	}
	return action, nil
}

// NewDisarmAction builds a DISARM_SYSTEM action with optional zone ids.
func NewDisarmAction(zoneIDs []string) (Action, error) {
	action := Action{
		Kind:   ActionDisarmSystem,
		Disarm: &DisarmParams{ZoneIDs: zoneIDs},
	}
	if err := action.Validate(); err != nil {
		return Action{}, err
	}
	return action, nil
}

// Validate checks that the parameter record matches the kind.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionArmSystem:
		if a.Arm == nil {
			return apperrors.ValidationField("arm", "ARM_SYSTEM action requires arm parameters")
		}
		if a.Disarm != nil {
			return apperrors.ValidationField("disarm", "ARM_SYSTEM action cannot carry disarm parameters")
		}
		if !a.Arm.Mode.Valid() {
			return apperrors.ValidationField("mode", "arm mode must be away or stay")
		}
		return validateZoneIDs(a.Arm.ZoneIDs)
	case ActionDisarmSystem:
		if a.Disarm == nil {
			return apperrors.ValidationField("disarm", "DISARM_SYSTEM action requires disarm parameters")
		}
		if a.Arm != nil {
			return apperrors.ValidationField("arm", "DISARM_SYSTEM action cannot carry arm parameters")
		}
		return validateZoneIDs(a.Disarm.ZoneIDs)
	default:
		return apperrors.ValidationField("kind", "unknown action kind: "+string(a.Kind))
	}
}

// ZoneIDs returns the zone list of whichever parameter record is set.
func (a Action) ZoneIDs() []string {
	switch a.Kind {
	case ActionArmSystem:
		if a.Arm != nil {
			return a.Arm.ZoneIDs
		}
	case ActionDisarmSystem:
		if a.Disarm != nil {
			return a.Disarm.ZoneIDs
		}
	}
	return nil
}

// clone returns a deep copy of the action.
func (a Action) clone() Action {
	out := Action{Kind: a.Kind}
	if a.Arm != nil {
		arm := *a.Arm
		arm.ZoneIDs = append([]string(nil), a.Arm.ZoneIDs...)
		out.Arm = &arm
	}
	if a.Disarm != nil {
		disarm := *a.Disarm
		disarm.ZoneIDs = append([]string(nil), a.Disarm.ZoneIDs...)
		out.Disarm = &disarm
	}
	return out
}

func validateZoneIDs(zoneIDs []string) error {
	for _, id := range zoneIDs {
		if strings.TrimSpace(id) == "" {
			return apperrors.ValidationField("zone_ids", "zone id cannot be blank")
		}
	}
	return nil
}
