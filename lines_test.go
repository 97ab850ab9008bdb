package transit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hustbus.dev/transit/model"
)

func TestMergeLines(t *testing.T) {
	forward := &model.Line{ID: "57_1", ShortName: "57", LongName: "Line 57", Forward: true}
	backward := &model.Line{ID: "57_2", ShortName: "57", LongName: " line 57 ", Forward: false}
	solo := &model.Line{ID: "12_2", ShortName: "12", LongName: "Line 12", Forward: false}
	blank := &model.Line{ID: "x", ShortName: "X", LongName: "   ", Forward: true}

	// Backward row first: forward still wins representative
	groups := MergeLines([]*model.Line{backward, solo, blank, forward})

	assert.Equal(t, []*model.LineGroup{
		{
			Key:            "line 12",
			Name:           "Line 12",
			Representative: solo,
			Directions:     []*model.Line{solo},
		},
		{
			Key:            "line 57",
			Name:           "Line 57",
			Representative: forward,
			Directions:     []*model.Line{forward, backward},
		},
	}, groups)
}

func TestMergeLinesRepresentative(t *testing.T) {
	for _, tc := range []struct {
		name           string
		lines          []*model.Line
		representative string
		directions     []string
	}{
		{
			"no_forward_takes_first",
			[]*model.Line{
				{ID: "b", LongName: "L"},
				{ID: "a", LongName: "L"},
			},
			"b",
			[]string{"a", "b"},
		},
		{
			"first_forward_wins",
			[]*model.Line{
				{ID: "c", LongName: "L"},
				{ID: "b", LongName: "L", Forward: true},
				{ID: "a", LongName: "L", Forward: true},
			},
			"b",
			[]string{"a", "b", "c"},
		},
		{
			"single",
			[]*model.Line{
				{ID: "a", LongName: "L", Forward: true},
			},
			"a",
			[]string{"a"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			groups := MergeLines(tc.lines)
			assert.Equal(t, 1, len(groups))
			assert.Equal(t, tc.representative, groups[0].Representative.ID)

			ids := []string{}
			for _, l := range groups[0].Directions {
				ids = append(ids, l.ID)
			}
			assert.Equal(t, tc.directions, ids)
		})
	}
}

func TestMergeLinesEmpty(t *testing.T) {
	assert.Equal(t, []*model.LineGroup{}, MergeLines(nil))
	assert.Equal(t, []*model.LineGroup{}, MergeLines([]*model.Line{{ID: "a", LongName: ""}}))
}
