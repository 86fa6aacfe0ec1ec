package strategy

import (
	"fmt"
	"sort"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// Factory builds a generator for one bot from its config.
type Factory func(interval domain.Interval, bot config.BotConfig) (Generator, error)

// factories maps strategy tags to constructors. Tags match the values
// accepted by config validation.
var factories = map[string]Factory{
	"trend": func(iv domain.Interval, bot config.BotConfig) (Generator, error) {
		return NewTrend(iv, bot.Trend)
	},
	"meanrev": func(iv domain.Interval, bot config.BotConfig) (Generator, error) {
		return NewMeanRev(iv, bot.MeanRev)
	},
	"vwap": func(iv domain.Interval, bot config.BotConfig) (Generator, error) {
		return NewVWAPRev(iv, bot.VWAP)
	},
	"breakout": func(iv domain.Interval, bot config.BotConfig) (Generator, error) {
		return NewBreakout(iv, bot.Breakout)
	},
	"grid": func(iv domain.Interval, bot config.BotConfig) (Generator, error) {
		return NewGrid(iv, bot.Grid)
	},
	"dca": func(iv domain.Interval, bot config.BotConfig) (Generator, error) {
		return NewDCA(iv, bot.DCA)
	},
}

// New builds the generator named by tag. An unknown tag is a configuration
// error.
func New(tag string, interval domain.Interval, bot config.BotConfig) (Generator, error) {
	factory, ok := factories[tag]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered (known: %v)", tag, Tags())
	}
	return factory(interval, bot)
}

// Tags returns all registered strategy tags in sorted order.
func Tags() []string {
	tags := make([]string, 0, len(factories))
	for t := range factories {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
