package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskTier_Worst(t *testing.T) {
	assert.Equal(t, RiskHigh, RiskLow.Worst(RiskHigh))
	assert.Equal(t, RiskHigh, RiskHigh.Worst(RiskMedium))
	assert.Equal(t, RiskMedium, RiskNone.Worst(RiskMedium))
	assert.Equal(t, RiskLow, RiskLow.Worst(RiskNone))
	assert.Equal(t, RiskNone, RiskNone.Worst(RiskNone))
}

func TestParseRiskTier(t *testing.T) {
	r, err := ParseRiskTier("MEDIUM")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, r)

	_, err = ParseRiskTier("medium")
	require.Error(t, err)
}
