package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthStatusBands(t *testing.T) {
	cases := []struct {
		score int
		want  HealthStatus
	}{
		{100, HealthExcellent},
		{80, HealthExcellent},
		{79, HealthGood},
		{60, HealthGood},
		{59, HealthFair},
		{40, HealthFair},
		{39, HealthPoor},
		{20, HealthPoor},
		{19, HealthCritical},
		{0, HealthCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, healthStatus(tc.score), "score %d", tc.score)
	}
}

func TestHealthScore(t *testing.T) {
	cases := []struct {
		name string
		in   HealthInputs
		want int
	}{
		{
			name: "idle stopped engine",
			in:   HealthInputs{},
			want: 25,
		},
		{
			name: "best case",
			in: HealthInputs{
				Running:          true,
				Metrics:          RiskMetrics{DailyReturn: d("0.5")},
				ActiveStrategies: 10,
				OpenPositions:    10,
				PendingOrders:    10,
			},
			want: 100,
		},
		{
			name: "worst case floors at zero contribution",
			in: HealthInputs{
				Metrics: RiskMetrics{DailyReturn: d("-0.5"), CurrentDrawdown: d("0.9")},
			},
			want: 0,
		},
		{
			name: "drawdown bands",
			in:   HealthInputs{Running: true, Metrics: RiskMetrics{CurrentDrawdown: d("0.07")}},
			want: 35,
		},
		{
			name: "drawdown at 20 percent scores nothing",
			in:   HealthInputs{Running: true, Metrics: RiskMetrics{CurrentDrawdown: d("0.2")}},
			want: 20,
		},
		{
			name: "small positive day rounds",
			in:   HealthInputs{Running: true, Metrics: RiskMetrics{DailyReturn: d("0.0126")}, OpenPositions: 2},
			want: 20 + 13 + 25 + 4,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := healthScore(tc.in, nil)
			assert.Equal(t, tc.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func TestHealthScoreComponents(t *testing.T) {
	_, c := healthScore(HealthInputs{
		Running:          true,
		Metrics:          RiskMetrics{DailyReturn: d("-0.004"), CurrentDrawdown: d("0.12")},
		ActiveStrategies: 1,
		OpenPositions:    7,
		PendingOrders:    3,
	}, nil)
	assert.Equal(t, 20.0, c.Running)
	assert.InDelta(t, -4.0, c.DailyReturn, 1e-9)
	assert.Equal(t, 5.0, c.Drawdown)
	assert.Equal(t, 5.0+10+3, c.Activity)
}

func TestHealthScoreCustomScoring(t *testing.T) {
	flat := func(float64) float64 { return 200 }
	got, _ := healthScore(HealthInputs{Running: true}, flat)
	assert.Equal(t, 100, got, "score is clamped to 100")
}

func TestRiskLevel(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name string
		m    RiskMetrics
		want RiskLevel
	}{
		{"quiet", RiskMetrics{}, RiskLow},
		{"at medium drawdown is still low", RiskMetrics{CurrentDrawdown: d("0.05")}, RiskLow},
		{"above medium drawdown", RiskMetrics{CurrentDrawdown: d("0.051")}, RiskMedium},
		{"medium daily loss", RiskMetrics{DailyReturn: d("-0.04")}, RiskMedium},
		{"at high daily move is medium", RiskMetrics{DailyReturn: d("0.10")}, RiskMedium},
		{"high daily gain", RiskMetrics{DailyReturn: d("0.11")}, RiskHigh},
		{"high drawdown", RiskMetrics{CurrentDrawdown: d("0.2")}, RiskHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, riskLevel(tc.m, th))
		})
	}
}

func TestDefaultDailyReturnScore(t *testing.T) {
	assert.Equal(t, 30.0, DefaultDailyReturnScore(0.2))
	assert.Equal(t, -10.0, DefaultDailyReturnScore(-0.2))
	assert.InDelta(t, 5.0, DefaultDailyReturnScore(0.005), 1e-9)
}
