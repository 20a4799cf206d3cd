package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/homeshield/aegis/internal/errors"
)

func TestNewArmAction(t *testing.T) {
	action, err := NewArmAction(ArmModeAway, []string{"zone-1", "zone-2"})
	require.NoError(t, err)
	assert.Equal(t, ActionArmSystem, action.Kind)
	require.NotNil(t, action.Arm)
	assert.Equal(t, ArmModeAway, action.Arm.Mode)
	assert.Equal(t, []string{"zone-1", "zone-2"}, action.ZoneIDs())
	assert.Nil(t, action.Disarm)
}

func TestNewArmAction_InvalidMode(t *testing.T) {
	_, err := NewArmAction(ArmMode("vacation"), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestNewArmAction_BlankZone(t *testing.T) {
	_, err := NewArmAction(ArmModeStay, []string{"zone-1", "  "})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestNewDisarmAction(t *testing.T) {
	action, err := NewDisarmAction(nil)
	require.NoError(t, err)
	assert.Equal(t, ActionDisarmSystem, action.Kind)
	require.NotNil(t, action.Disarm)
	assert.Empty(t, action.ZoneIDs())
	assert.Nil(t, action.Arm)

	action, err = NewDisarmAction([]string{"zone-7"})
	require.NoError(t, err)
	assert.Equal(t, []string{"zone-7"}, action.ZoneIDs())
}

func TestAction_Validate_CrossKindPollution(t *testing.T) {
	arm := Action{
		Kind:   ActionArmSystem,
		Arm:    &ArmParams{Mode: ArmModeAway},
		Disarm: &DisarmParams{},
	}
	require.Error(t, arm.Validate())

	disarm := Action{
		Kind:   ActionDisarmSystem,
		Arm:    &ArmParams{Mode: ArmModeAway},
		Disarm: &DisarmParams{},
	}
	require.Error(t, disarm.Validate())
}

func TestAction_Validate_MissingParams(t *testing.T) {
	require.Error(t, Action{Kind: ActionArmSystem}.Validate())
	require.Error(t, Action{Kind: ActionDisarmSystem}.Validate())
	require.Error(t, Action{Kind: ActionKind("REBOOT")}.Validate())
}

func TestActionKind_UnmarshalText(t *testing.T) {
	var kind ActionKind
	require.NoError(t, kind.UnmarshalText([]byte("arm_system")))
	assert.Equal(t, ActionArmSystem, kind)

	require.NoError(t, kind.UnmarshalText([]byte(" DISARM_SYSTEM ")))
	assert.Equal(t, ActionDisarmSystem, kind)

	require.Error(t, kind.UnmarshalText([]byte("explode")))
}

func TestArmMode_UnmarshalText(t *testing.T) {
	var mode ArmMode
	require.NoError(t, mode.UnmarshalText([]byte("AWAY")))
	assert.Equal(t, ArmModeAway, mode)

	require.NoError(t, mode.UnmarshalText([]byte("stay")))
	assert.Equal(t, ArmModeStay, mode)

	require.Error(t, mode.UnmarshalText([]byte("sleep")))
}

func TestAction_JSONRoundTrip(t *testing.T) {
	action, err := NewArmAction(ArmModeStay, []string{"front-door"})
	require.NoError(t, err)

	data, err := json.Marshal(action)
	require.NoError(t, err)

	var back Action
	require.NoError(t, json.Unmarshal(data, &back))
	require.NoError(t, back.Validate())
	assert.Equal(t, action, back)
}
