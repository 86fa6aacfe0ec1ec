package domain

import (
	"math"
	"time"
)

// BasisType classifies the arbitrage structure by the sign of the basis.
type BasisType string

const (
	// BasisCashAndCarry harvests a positive basis: long spot, short futures.
	BasisCashAndCarry BasisType = "cash_and_carry"
	// BasisReverse harvests a negative basis: short spot, long futures.
	BasisReverse BasisType = "reverse_cash_and_carry"
)

// BasisOpportunity is a read-only snapshot of a spot/futures basis edge.
// Superseded by the next scan, never updated in place.
type BasisOpportunity struct {
	SpotSymbol       string
	FuturesSymbol    string
	SpotPrice        float64
	FuturesPrice     float64
	Basis            float64 // futures − spot
	BasisPercent     float64 // basis / spot × 100
	FundingRate      float64
	AnnualizedReturn float64 // fraction, e.g. 0.105 = 10.5%
	Type             BasisType
	Confidence       float64 // [0,1]
	ScannedAt        time.Time
}

// AnnualizedFromBasisPercent compounds the daily-equivalent basis over a
// year: (1 + basis%/365/100)^365 − 1.
func AnnualizedFromBasisPercent(basisPercent float64) float64 {
	daily := basisPercent / 365 / 100
	return math.Pow(1+daily, 365) - 1
}

// BasisPositionStatus tracks a hedged basis position's lifecycle.
type BasisPositionStatus string

const (
	BasisPositionActive  BasisPositionStatus = "active"
	BasisPositionExiting BasisPositionStatus = "exiting"
	BasisPositionClosed  BasisPositionStatus = "closed"
)

// BasisPosition is a 1:1 hedged spot/futures pair opened against a
// BasisOpportunity.
type BasisPosition struct {
	ID              string
	Type            BasisType
	SpotSymbol      string
	FuturesSymbol   string
	Quantity        float64 // identical on both legs
	SpotEntry       float64
	FuturesEntry    float64
	EntryBasisPct   float64
	Capital         float64 // deployed capital for both legs
	FundingCaptured float64
	UnrealizedPnL   float64
	RealizedPnL     float64
	Status          BasisPositionStatus
	OpenedAt        time.Time
	ClosedAt        *time.Time
	UpdatedAt       time.Time
}

// LegPnL returns the combined unrealized PnL of both legs plus captured
// funding at the given marks. The spot leg is long for cash-and-carry and
// short for the reverse structure; the futures leg is always opposite.
func (p *BasisPosition) LegPnL(spotMark, futuresMark float64) float64 {
	spotSign := 1.0
	if p.Type == BasisReverse {
		spotSign = -1
	}
	spot := (spotMark - p.SpotEntry) * p.Quantity * spotSign
	futures := (futuresMark - p.FuturesEntry) * p.Quantity * -spotSign
	return spot + futures + p.FundingCaptured
}

// CurrentBasisPercent returns the basis percentage at the given marks.
func (p *BasisPosition) CurrentBasisPercent(spotMark, futuresMark float64) float64 {
	if spotMark == 0 {
		return 0
	}
	return (futuresMark - spotMark) / spotMark * 100
}
