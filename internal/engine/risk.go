package engine

import (
	"math"

	"github.com/shopspring/decimal"
)

// RiskLevel is the coarse risk classification.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// HealthStatus is the banded health score.
type HealthStatus string

const (
	HealthExcellent HealthStatus = "excellent"
	HealthGood      HealthStatus = "good"
	HealthFair      HealthStatus = "fair"
	HealthPoor      HealthStatus = "poor"
	HealthCritical  HealthStatus = "critical"
)

// RiskThresholds are per-engine limits. A metric strictly above a
// threshold raises the level.
type RiskThresholds struct {
	HighDrawdown    float64 `json:"high_drawdown"`
	HighDailyMove   float64 `json:"high_daily_move"`
	MediumDrawdown  float64 `json:"medium_drawdown"`
	MediumDailyMove float64 `json:"medium_daily_move"`
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() RiskThresholds {
	return RiskThresholds{
		HighDrawdown:    0.15,
		HighDailyMove:   0.10,
		MediumDrawdown:  0.05,
		MediumDailyMove: 0.03,
	}
}

// ScoringFunc maps the daily return (0.01 == 1%) to health points.
type ScoringFunc func(dailyReturn float64) float64

// DefaultDailyReturnScore is dailyReturn x 1000 clamped to [-10, 30].
func DefaultDailyReturnScore(dailyReturn float64) float64 {
	return clampFloat(dailyReturn*1000, -10, 30)
}

// riskMetrics derives the daily P&L, drawdown and exposure summary.
func riskMetrics(p Portfolio, exposure decimal.Decimal) RiskMetrics {
	daily := p.PortfolioValue.Sub(p.DayStartValue)
	ret := decimal.Zero
	if p.DayStartValue.IsPositive() {
		ret = daily.Div(p.DayStartValue)
	}
	return RiskMetrics{
		DailyPnL:        daily,
		DailyReturn:     ret,
		CurrentDrawdown: drawdown(p.PeakValue, p.PortfolioValue),
		Exposure:        exposure,
	}
}

// riskLevel classifies metrics against thresholds.
func riskLevel(m RiskMetrics, t RiskThresholds) RiskLevel {
	dd := toFloat(m.CurrentDrawdown)
	move := math.Abs(toFloat(m.DailyReturn))
	switch {
	case dd > t.HighDrawdown || move > t.HighDailyMove:
		return RiskHigh
	case dd > t.MediumDrawdown || move > t.MediumDailyMove:
		return RiskMedium
	default:
		return RiskLow
	}
}

// HealthInputs is everything the health score reads.
type HealthInputs struct {
	Running          bool
	Metrics          RiskMetrics
	ActiveStrategies int
	OpenPositions    int
	PendingOrders    int
}

// HealthComponents is the per-component breakdown of a score.
type HealthComponents struct {
	Running     float64 `json:"running"`
	DailyReturn float64 `json:"daily_return"`
	Drawdown    float64 `json:"drawdown"`
	Activity    float64 `json:"activity"`
}

// healthScore combines the four weighted components and clamps to [0,100].
func healthScore(in HealthInputs, score ScoringFunc) (int, HealthComponents) {
	if score == nil {
		score = DefaultDailyReturnScore
	}
	var c HealthComponents
	if in.Running {
		c.Running = 20
	}
	c.DailyReturn = score(toFloat(in.Metrics.DailyReturn))

	dd := toFloat(in.Metrics.CurrentDrawdown)
	switch {
	case dd < 0.05:
		c.Drawdown = 25
	case dd < 0.10:
		c.Drawdown = 15
	case dd < 0.20:
		c.Drawdown = 5
	default:
		c.Drawdown = 0
	}

	c.Activity = clampFloat(float64(in.ActiveStrategies)*5, 0, 10) +
		clampFloat(float64(in.OpenPositions)*2, 0, 10) +
		clampFloat(float64(in.PendingOrders), 0, 5)

	total := c.Running + c.DailyReturn + c.Drawdown + c.Activity
	return int(clampFloat(math.Round(total), 0, 100)), c
}

// healthStatus bands a score: >=80 excellent, >=60 good, >=40 fair,
// >=20 poor, otherwise critical.
func healthStatus(score int) HealthStatus {
	switch {
	case score >= 80:
		return HealthExcellent
	case score >= 60:
		return HealthGood
	case score >= 40:
		return HealthFair
	case score >= 20:
		return HealthPoor
	default:
		return HealthCritical
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
