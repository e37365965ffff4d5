package domain

import "github.com/shopspring/decimal"

var winnerFraction = decimal.RequireFromString(WinnerPrizeFraction)

// Split is the division of a prize pool between the winner and the platform.
type Split struct {
	PrizePool     Money
	WinnerShare   Money
	PlatformShare Money
}

// PrizePool is the escrowed total for a match: entryFee × joined players.
func PrizePool(entryFee Money, players int) Money {
	return Money(int64(entryFee) * int64(players))
}

// SplitPrizePool computes the winner share as round(pool × 0.70) in cents,
// rounding half away from zero. The platform share is the remainder so the
// two always add up to the pool.
func SplitPrizePool(pool Money) Split {
	winner := decimal.NewFromInt(int64(pool)).Mul(winnerFraction).Round(0).IntPart()
	return Split{
		PrizePool:     pool,
		WinnerShare:   Money(winner),
		PlatformShare: pool - Money(winner),
	}
}
