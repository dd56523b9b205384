package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transiter.dev/transiter/internal/apperrors"
)

func TestLoadTransfersConfig(t *testing.T) {
	testCases := []struct {
		name    string
		blob    string
		want    TransfersConfig
		wantErr bool
	}{
		{
			name: "empty",
			blob: "",
			want: TransfersConfig{},
		},
		{
			name: "strategy only",
			blob: `{"strategy": "group_stations"}`,
			want: TransfersConfig{DefaultStrategy: TransfersGroupStations},
		},
		{
			name: "bare list exceptions",
			blob: `{"exceptions": [["B", "A"], ["C", "D"]]}`,
			want: TransfersConfig{
				DefaultStrategy: TransfersDefault,
				Exceptions: []TransfersException{
					{StopIDs: []string{"A", "B"}, Strategy: TransfersDefault},
					{StopIDs: []string{"C", "D"}, Strategy: TransfersDefault},
				},
			},
		},
		{
			name: "mapping exception in yaml",
			blob: "strategy: default\nexceptions:\n  - stop_ids: [X, Y]\n    strategy: GROUP_STATIONS\n",
			want: TransfersConfig{
				DefaultStrategy: TransfersDefault,
				Exceptions: []TransfersException{
					{StopIDs: []string{"X", "Y"}, Strategy: TransfersGroupStations},
				},
			},
		},
		{name: "unknown key", blob: `{"strategy": "default", "extra": 1}`, wantErr: true},
		{name: "exceptions not a list", blob: `{"exceptions": "A,B"}`, wantErr: true},
		{name: "exception missing strategy", blob: `{"exceptions": [{"stop_ids": ["A", "B"]}]}`, wantErr: true},
		{name: "exception missing stop ids", blob: `{"exceptions": [{"strategy": "default"}]}`, wantErr: true},
		{name: "unknown strategy", blob: `{"strategy": "merge_everything"}`, wantErr: true},
		{name: "not a mapping", blob: `["A", "B"]`, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LoadTransfersConfig([]byte(tc.blob))
			if tc.wantErr {
				var invalid *apperrors.InvalidInputError
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStrategyFor(t *testing.T) {
	cfg := TransfersConfig{
		DefaultStrategy: TransfersGroupStations,
		Exceptions: []TransfersException{
			{StopIDs: []string{"B", "C"}, Strategy: TransfersDefault},
		},
	}

	assert.Equal(t, TransfersDefault, cfg.StrategyFor("B", "C"))
	assert.Equal(t, TransfersDefault, cfg.StrategyFor("C", "B"))
	assert.Equal(t, TransfersGroupStations, cfg.StrategyFor("A", "B"))
	assert.Equal(t, TransfersGroupStations, cfg.StrategyFor("A", "C"))
	assert.Equal(t, TransfersDefault, TransfersConfig{}.StrategyFor("A", "B"))
}
