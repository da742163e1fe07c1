package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/renderer"
	"github.com/google/subcommands"
)

// fieldFlag exposes a draft field as a flag of the same name.
type fieldFlag struct {
	field portfolio.Field
	usage string
}

// actionCmd previews one kind of action and commits it with -y.
type actionCmd struct {
	kind     portfolio.Kind
	name     string
	synopsis string
	usage    string
	fields   []fieldFlag

	values   map[portfolio.Field]*string
	yes      bool
	premium  string
	interest string
	maxLTV   float64
	factors  string
	history  string
}

func actionCommands() []*actionCmd {
	return []*actionCmd{
		{
			kind: portfolio.KindAddFunds, name: "fund", synopsis: "deposit cash",
			usage: `pae [-portfolio <id>] fund -amount <irr> [-y]

  Deposits IRR cash into the portfolio.
`,
			fields: []fieldFlag{{portfolio.FieldAmount, "Amount to deposit, in IRR."}},
		},
		{
			kind: portfolio.KindTrade, name: "trade", synopsis: "buy or sell an asset",
			usage: `pae [-portfolio <id>] trade -side <buy|sell> -asset <id> (-amount <irr> | -quantity <q>) [-y]

  Buys an asset for an IRR amount, or sells an IRR amount or a quantity of it.
`,
			fields: []fieldFlag{
				{portfolio.FieldSide, "BUY or SELL."},
				{portfolio.FieldAsset, "Asset to trade."},
				{portfolio.FieldAmount, "Amount in IRR."},
				{portfolio.FieldQuantity, "Quantity to sell, instead of an amount."},
			},
		},
		{
			kind: portfolio.KindProtect, name: "protect", synopsis: "buy downside protection on a holding",
			usage: `pae [-portfolio <id>] protect -asset <id> -premium <irr> [-duration <days>] [-notional <irr>] [-y]

  Buys protection on a held asset. The notional defaults to the holding value
  and the duration to the policy default.
`,
			fields: []fieldFlag{
				{portfolio.FieldAsset, "Asset to protect."},
				{portfolio.FieldDuration, "Duration in days."},
				{portfolio.FieldNotional, "Notional in IRR."},
			},
		},
		{
			kind: portfolio.KindBorrow, name: "borrow", synopsis: "take a loan against a holding",
			usage: `pae [-portfolio <id>] borrow -asset <id> -amount <irr> [-installments <n>] [-term <days>] [-interest <irr>] [-y]

  Borrows IRR against a whole holding, which stays frozen until the loan is
  repaid or liquidated.
`,
			fields: []fieldFlag{
				{portfolio.FieldAsset, "Collateral asset."},
				{portfolio.FieldAmount, "Principal in IRR."},
				{portfolio.FieldInstallments, "Number of installments."},
				{portfolio.FieldTermDays, "Term in days."},
			},
		},
		{
			kind: portfolio.KindRepay, name: "repay", synopsis: "pay back a loan",
			usage: `pae [-portfolio <id>] repay -loan <id> -amount <irr> [-y]

  Pays installments of a loan in order. Paying the outstanding amount in full
  closes the loan and releases its collateral.
`,
			fields: []fieldFlag{
				{portfolio.FieldLoan, "Loan to repay."},
				{portfolio.FieldAmount, "Amount in IRR."},
			},
		},
		{
			kind: portfolio.KindRebalance, name: "rebalance", synopsis: "move the portfolio back to its target",
			usage: `pae [-portfolio <id>] rebalance -mode <holdings_only|holdings_plus_cash|smart> [-strategy <s>] [-factors <file>] [-history <file>] [-y]

  Plans the trades that bring each layer back to its target and shows them.
  A history file maps asset IDs to daily prices, oldest first; the weighting
  factors and the slippage estimate are derived from it.
`,
			fields: []fieldFlag{
				{portfolio.FieldMode, "HOLDINGS_ONLY, HOLDINGS_PLUS_CASH or SMART."},
				{portfolio.FieldStrategy, "Intra layer weighting strategy."},
			},
		},
	}
}

func (c *actionCmd) Name() string     { return c.name }
func (c *actionCmd) Synopsis() string { return c.synopsis }
func (c *actionCmd) Usage() string    { return c.usage }

func (c *actionCmd) SetFlags(f *flag.FlagSet) {
	c.values = make(map[portfolio.Field]*string, len(c.fields))
	for _, ff := range c.fields {
		c.values[ff.field] = f.String(string(ff.field), "", ff.usage)
	}
	f.BoolVar(&c.yes, "y", false, "Commit the action when the preview is valid.")
	switch c.kind {
	case portfolio.KindProtect:
		f.StringVar(&c.premium, "premium", "", "Quoted premium in IRR.")
	case portfolio.KindBorrow:
		f.StringVar(&c.interest, "interest", "0", "Quoted total interest in IRR.")
		f.Float64Var(&c.maxLTV, "max-ltv", 0, "Quoted LTV limit. Defaults to the policy limit of the asset layer.")
	case portfolio.KindRebalance:
		f.StringVar(&c.factors, "factors", "", "JSON file of per asset factors for the weighting strategies.")
		f.StringVar(&c.history, "history", "", "JSON file of daily prices per asset.")
	}
}

// quotes attaches the quote flags to in.
func (c *actionCmd) quotes(in *portfolio.Inputs) error {
	switch c.kind {
	case portfolio.KindProtect:
		if c.premium == "" {
			return nil
		}
		premium, err := portfolio.ParseMoney(c.premium)
		if err != nil {
			return fmt.Errorf("invalid -premium: %w", err)
		}
		in.ProtectionQuote = &portfolio.ProtectionQuote{PremiumIRR: premium}
	case portfolio.KindBorrow:
		interest, err := portfolio.ParseMoney(c.interest)
		if err != nil {
			return fmt.Errorf("invalid -interest: %w", err)
		}
		in.LoanQuote = &portfolio.LoanQuote{InterestIRR: interest, MaxLTV: c.maxLTV}
	case portfolio.KindRebalance:
		if err := readJSON(c.factors, &in.Factors); err != nil {
			return fmt.Errorf("invalid factors file %s: %w", c.factors, err)
		}
		if err := readJSON(c.history, &in.History); err != nil {
			return fmt.Errorf("invalid history file %s: %w", c.history, err)
		}
	}
	return nil
}

// readJSON decodes the file at path into v. An empty path leaves v untouched.
func readJSON(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (c *actionCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	e, err := a.engine(ctx)
	if err != nil {
		return fail(err)
	}
	if err := e.Start(c.kind); err != nil {
		return fail(err)
	}
	defer e.Cancel()
	for _, ff := range c.fields {
		if v := *c.values[ff.field]; v != "" {
			if err := e.Set(ff.field, v); err != nil {
				return fail(err)
			}
		}
	}

	in, err := a.inputs(ctx)
	if err != nil {
		return fail(err)
	}
	if err := c.quotes(&in); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitUsageError
	}

	res, err := e.Preview(in)
	if err != nil {
		var contract *portfolio.ContractError
		if errors.As(err, &contract) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return subcommands.ExitUsageError
		}
		return fail(err)
	}
	printMarkdown(renderer.RenderPreview(res, e.State().Target))
	if !res.OK {
		return subcommands.ExitFailure
	}
	if !c.yes {
		fmt.Fprintln(stdout, "Run again with -y to commit.")
		return subcommands.ExitSuccess
	}

	cr, err := e.Confirm(in)
	if err != nil {
		return fail(err)
	}
	printMarkdown(renderer.RenderCommit(cr))
	return subcommands.ExitSuccess
}

type liquidateCmd struct {
	loan string
	yes  bool
}

func (*liquidateCmd) Name() string { return "liquidate" }
func (*liquidateCmd) Synopsis() string {
	return "sell the collateral of a loan past its liquidation price"
}
func (*liquidateCmd) Usage() string {
	return `pae [-portfolio <id>] liquidate -loan <id> -y

  Sells the collateral of a loan whose collateral price fell to its
  liquidation price, settles the outstanding amount and credits the rest.
`
}

func (c *liquidateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.loan, "loan", "", "Loan to liquidate.")
	f.BoolVar(&c.yes, "y", false, "Confirm the liquidation.")
}

func (c *liquidateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.loan == "" {
		fmt.Fprintln(os.Stderr, "Error: -loan is required")
		return subcommands.ExitUsageError
	}
	if !c.yes {
		fmt.Fprintln(os.Stderr, "Error: liquidation cannot be previewed, pass -y to proceed")
		return subcommands.ExitUsageError
	}

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
	cr, err := e.Liquidate(c.loan, in)
	if err != nil {
		return fail(err)
	}
	printMarkdown(renderer.RenderCommit(cr))
	return subcommands.ExitSuccess
}
