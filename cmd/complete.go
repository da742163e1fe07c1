package cmd

import (
	"flag"
	"strings"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/allocation"
	"github.com/google/subcommands"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

// Completion describes the commands of c for shell completion.
func Completion(c *subcommands.Commander) *complete.Command {
	root := &complete.Command{
		Sub:   make(map[string]*complete.Command),
		Flags: make(map[string]complete.Predictor),
	}
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		root.Flags[f.Name] = predictor(f.Name)
	})
	c.VisitCommands(func(_ *subcommands.CommandGroup, cmd subcommands.Command) {
		fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
		cmd.SetFlags(fs)
		sub := &complete.Command{Flags: make(map[string]complete.Predictor)}
		fs.VisitAll(func(f *flag.Flag) {
			sub.Flags[f.Name] = predictor(f.Name)
		})
		root.Sub[cmd.Name()] = sub
	})
	return root
}

func predictor(flagName string) complete.Predictor {
	switch flagName {
	case "config":
		return predict.Files("*.yaml")
	case "factors":
		return predict.Files("*.json")
	case "y", "raw", "json":
		return predict.Nothing
	case string(portfolio.FieldSide):
		return predict.Set{"buy", "sell"}
	case string(portfolio.FieldAsset):
		var ids predict.Set
		for _, id := range portfolio.Assets() {
			ids = append(ids, strings.ToLower(string(id)))
		}
		return ids
	case string(portfolio.FieldMode):
		return predict.Set{"holdings_only", "holdings_plus_cash", "smart"}
	case string(portfolio.FieldStrategy):
		var s predict.Set
		for _, st := range allocation.Strategies() {
			s = append(s, strings.ToLower(string(st)))
		}
		return s
	default:
		return predict.Something
	}
}
