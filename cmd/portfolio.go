package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/renderer"
	"github.com/google/subcommands"
)

type initCmd struct {
	foundation float64
	growth     float64
	upside     float64
}

func (*initCmd) Name() string     { return "init" }
func (*initCmd) Synopsis() string { return "create an empty portfolio" }
func (*initCmd) Usage() string {
	return `pae [-portfolio <id>] init [-foundation <pct>] [-growth <pct>] [-upside <pct>]

  Creates an empty portfolio. The target allocation defaults to the one of the
  configuration; when given, the three fractions must sum to 1.
`
}

func (c *initCmd) SetFlags(f *flag.FlagSet) {
	f.Float64Var(&c.foundation, "foundation", 0, "Target fraction of the foundation layer.")
	f.Float64Var(&c.growth, "growth", 0, "Target fraction of the growth layer.")
	f.Float64Var(&c.upside, "upside", 0, "Target fraction of the upside layer.")
}

func (c *initCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	target := a.target
	if c.foundation != 0 || c.growth != 0 || c.upside != 0 {
		if target, err = portfolio.NewTarget(c.foundation, c.growth, c.upside); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return subcommands.ExitUsageError
		}
	}
	if _, err := a.reg.Create(ctx, *portfolioID, target); err != nil {
		return fail(err)
	}
	fmt.Fprintf(stdout, "Created portfolio %q\n", *portfolioID)
	return subcommands.ExitSuccess
}

type listCmd struct{}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list the stored portfolios" }
func (*listCmd) Usage() string {
	return `pae list

  Prints the identifier of every stored portfolio, one per line.
`
}
func (*listCmd) SetFlags(*flag.FlagSet) {}

func (*listCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	ids, err := a.reg.List(ctx)
	if err != nil {
		return fail(err)
	}
	for _, id := range ids {
		fmt.Fprintln(stdout, id)
	}
	return subcommands.ExitSuccess
}

type snapshotCmd struct {
	json bool
}

func (*snapshotCmd) Name() string     { return "snapshot" }
func (*snapshotCmd) Synopsis() string { return "value the portfolio at current prices" }
func (*snapshotCmd) Usage() string {
	return `pae [-portfolio <id>] snapshot [-json]

  Values holdings and cash at current prices and shows the layer allocation
  against the target, the active loans and the active protections.
`
}

func (c *snapshotCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "Print the snapshot as JSON.")
}

func (c *snapshotCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	e, err := a.engine(ctx)
	if err != nil {
		return fail(err)
	}
	in, err := a.inputs(ctx)
	if err != nil {
		return fail(err)
	}
	snap := e.Snapshot(in.Prices)
	if c.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fail(err)
		}
		return subcommands.ExitSuccess
	}
	printMarkdown(renderer.RenderSnapshot(e.ID(), e.State(), snap, a.policy.Boundaries, in.Now))
	return subcommands.ExitSuccess
}

type logCmd struct {
	since uint64
	tail  int
}

func (*logCmd) Name() string     { return "log" }
func (*logCmd) Synopsis() string { return "display the ledger of committed actions" }
func (*logCmd) Usage() string {
	return `pae [-portfolio <id>] log [-since <seq>] [-tail <n>]

  Lists the committed actions of the portfolio, oldest first, with the
  boundary each one was classified in and its effect on the total value.
`
}

func (c *logCmd) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&c.since, "since", 0, "Show only entries after this sequence number.")
	f.IntVar(&c.tail, "tail", 0, "Show only the last N entries.")
}

func (c *logCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	e, err := a.engine(ctx)
	if err != nil {
		return fail(err)
	}
	entries := slices.DeleteFunc(e.Entries(), func(le portfolio.LedgerEntry) bool {
		return le.Seq <= c.since
	})
	if c.tail > 0 && len(entries) > c.tail {
		entries = entries[len(entries)-c.tail:]
	}
	printMarkdown(renderer.RenderLedger(e.ID(), entries))
	return subcommands.ExitSuccess
}
