package main

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeshield/aegis/internal/domain/model"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)

	defer func() {
		os.Stdout = oldStdout
	}()

	os.Stdout = w
	fn()
	require.NoError(t, w.Close())
	os.Stdout = oldStdout

	output, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(output)
}

func TestPrintJSONWithoutQuery(t *testing.T) {
	cmdCtx := &commandContext{}
	doc := taskListDocument{Count: 1, Tasks: []*model.ScheduledTask{{ID: "task-1", UserID: "user-1"}}}

	out := captureStdout(t, func() {
		require.NoError(t, cmdCtx.printJSON(doc))
	})

	assert.Contains(t, out, `"count": 1`)
	assert.Contains(t, out, `"task-1"`)
}

func TestPrintJSONAppliesQueryProjection(t *testing.T) {
	cmdCtx := &commandContext{Query: "tasks[].id"}
	doc := taskListDocument{Count: 2, Tasks: []*model.ScheduledTask{
		{ID: "task-1", UserID: "user-1"},
		{ID: "task-2", UserID: "user-2"},
	}}

	out := captureStdout(t, func() {
		require.NoError(t, cmdCtx.printJSON(doc))
	})

	assert.Contains(t, out, "task-1")
	assert.Contains(t, out, "task-2")
	assert.NotContains(t, out, "user-1")
	assert.NotContains(t, out, "count")
}

func TestPrintJSONRejectsBadQuery(t *testing.T) {
	cmdCtx := &commandContext{Query: "tasks[?"}

	err := cmdCtx.printJSON(taskListDocument{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply --query")
}

func TestParseCreateFlagsRequiresCoreFields(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{name: "missing user", args: []string{"--action", "arm", "--days", "weekdays", "--time", "21:30"}},
		{name: "missing action", args: []string{"--user", "u1", "--days", "weekdays", "--time", "21:30"}},
		{name: "missing days", args: []string{"--user", "u1", "--action", "arm", "--time", "21:30"}},
		{name: "missing time", args: []string{"--user", "u1", "--action", "arm", "--days", "weekdays"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseCreateFlags(tc.args)
			require.Error(t, err)
		})
	}
}

func TestBuildTaskArm(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	opts := createOptions{
		User:     "user-1",
		Action:   "arm",
		Mode:     "stay",
		Zones:    "zone-a, zone-b",
		Days:     "weekdays",
		Time:     "21:30",
		TZ:       "UTC",
		Activate: true,
	}

	task, err := buildTask(opts, now)
	require.NoError(t, err)

	assert.Equal(t, model.StatusActive, task.Status)
	assert.Equal(t, model.ActionArmSystem, task.Action.Kind)
	require.NotNil(t, task.Action.Arm)
	assert.Equal(t, model.ArmModeStay, task.Action.Arm.Mode)
	assert.Equal(t, []string{"zone-a", "zone-b"}, task.Action.Arm.ZoneIDs)
	require.NotNil(t, task.NextExecutionTime)
}

func TestBuildTaskDisarmStaysPendingWithoutActivate(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	opts := createOptions{
		User:   "user-1",
		Action: "disarm",
		Days:   "weekends",
		Time:   "9:00 AM",
	}

	task, err := buildTask(opts, now)
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, task.Status)
	assert.Equal(t, model.ActionDisarmSystem, task.Action.Kind)
}

func TestBuildTaskRejectsUnknownAction(t *testing.T) {
	_, err := buildTask(createOptions{
		User:   "user-1",
		Action: "toggle",
		Days:   "everyday",
		Time:   "noon",
	}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestParseTasksFlagsNormalizesStatus(t *testing.T) {
	opts, err := parseTasksFlags([]string{"--status", "active"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, opts.Status)

	_, err = parseTasksFlags([]string{"--status", "bogus"})
	require.Error(t, err)
}

func TestParseCancelFlagsTakesLeadingID(t *testing.T) {
	opts, err := parseCancelFlags([]string{"task-9", "--reason", "vacation hold", "--yes"})
	require.NoError(t, err)
	assert.Equal(t, "task-9", opts.ID)
	assert.Equal(t, "vacation hold", opts.Reason)
	assert.True(t, opts.Yes)

	_, err = parseCancelFlags([]string{"--reason", "no id"})
	require.Error(t, err)
}

func TestSplitZones(t *testing.T) {
	assert.Nil(t, splitZones(""))
	assert.Equal(t, []string{"a", "b"}, splitZones("a,b"))
	assert.Equal(t, []string{"a", "b"}, splitZones(" a , , b ,"))
}

func TestParsePurgeFlags(t *testing.T) {
	opts, err := parsePurgeFlags([]string{"--older-than", "720h", "--status", "cancelled, failed", "--yes"})
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, opts.OlderThan)
	assert.Equal(t, []model.Status{model.StatusCancelled, model.StatusFailed}, opts.Statuses)
	assert.True(t, opts.Yes)

	_, err = parsePurgeFlags(nil)
	require.Error(t, err, "cutoff is required")

	_, err = parsePurgeFlags([]string{"--older-than", "720h", "--status", "bogus"})
	require.Error(t, err)
}
