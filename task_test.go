// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.21
//

package goik

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTasks(t *testing.T) {
	data := `
# marker tracking
marker elbow 1
marker wrist 2.5

coord q1 0 from_file
coord q2 4 value 0.25
coord q3 1 default
`
	tasks, err := ReadTasks(strings.NewReader(data))
	require.NoError(t, err)

	wantMarkers := []MarkerTask{
		{Name: "elbow", Weight: 1},
		{Name: "wrist", Weight: 2.5},
	}
	if diff := cmp.Diff(wantMarkers, tasks.Markers); diff != "" {
		t.Errorf("marker tasks mismatch (-want +got):\n%s", diff)
	}

	wantCoords := []CoordinateTask{
		{Name: "q1", Weight: 0, Source: FromFile},
		{Name: "q2", Weight: 4, Source: FromValue, Value: 0.25},
		{Name: "q3", Weight: 1, Source: FromDefault},
	}
	if diff := cmp.Diff(wantCoords, tasks.Coordinates); diff != "" {
		t.Errorf("coordinate tasks mismatch (-want +got):\n%s", diff)
	}
}

func TestReadTasksErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"unknown kind", "body q1 1\n"},
		{"marker missing weight", "marker elbow\n"},
		{"marker bad weight", "marker elbow heavy\n"},
		{"coord missing source", "coord q1 1\n"},
		{"coord unknown source", "coord q1 1 somewhere\n"},
		{"value without target", "coord q1 1 value\n"},
		{"value bad target", "coord q1 1 value x\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadTasks(strings.NewReader(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestValueSourceString(t *testing.T) {
	assert.Equal(t, "default", FromDefault.String())
	assert.Equal(t, "from_file", FromFile.String())
	assert.Equal(t, "value", FromValue.String())
}
