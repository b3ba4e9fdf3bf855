// Package reward maps (opponent kind, bot level, outcome) to a coin amount.
package reward

import "github.com/marsdevs/chess-arena/internal/domain"

var botTable = map[domain.BotLevel]map[domain.Outcome]int{
	domain.BotEasy:   {domain.OutcomeWin: 45, domain.OutcomeDraw: 10, domain.OutcomeLose: 0},
	domain.BotMedium: {domain.OutcomeWin: 75, domain.OutcomeDraw: 20, domain.OutcomeLose: 0},
	domain.BotHard:   {domain.OutcomeWin: 100, domain.OutcomeDraw: 30, domain.OutcomeLose: 0},
}

var pvpTable = map[domain.Outcome]int{
	domain.OutcomeWin:  50,
	domain.OutcomeDraw: 20,
	domain.OutcomeLose: 0,
}

// Calculate returns the coin amount for a single participant's outcome.
// Unknown combinations pay nothing.
func Calculate(kind domain.OpponentKind, level domain.BotLevel, outcome domain.Outcome) int {
	if kind == domain.OpponentBot {
		return botTable[level][outcome]
	}
	return pvpTable[outcome]
}
