package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevetools/calsync/internal/engine"
)

func TestParseWhen(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", "2024-04-10T14:00:00Z", time.Date(2024, 4, 10, 14, 0, 0, 0, time.UTC), false},
		{"rfc3339 with offset", "2024-04-10T16:00:00+02:00", time.Date(2024, 4, 10, 14, 0, 0, 0, time.UTC), false},
		{"bare date", "2024-04-10", time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), false},
		{"empty", "", time.Time{}, true},
		{"nonsense", "next tuesday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWhen(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got))
		})
	}
}

func TestPrintSummaries_FailureReturnsError(t *testing.T) {
	err := printSummaries([]*engine.RunSummary{
		{Account: "ok", Message: "generic sync complete"},
		{Account: "broken", Message: "generic sync failed", Error: "login: unauthorized"},
	})

	assert.Error(t, err)

	err = printSummaries([]*engine.RunSummary{
		{Account: "ok", Message: "generic sync complete"},
	})

	assert.NoError(t, err)
}
