// Package portfolio is the action engine of a layered investment portfolio.
//
// A portfolio holds IRR cash and positions in a fixed universe of assets,
// each belonging to one of three risk layers (FOUNDATION, GROWTH, UPSIDE),
// and aims at a target share of holdings value per layer.
//
// Every user action (add funds, trade, protect, borrow, repay, rebalance)
// goes through the same cycle:
//   - Start a draft and Set its fields.
//   - Preview it: validate against the current state, compute the snapshot
//     after the action, and classify how far it leaves the portfolio from its
//     target (SAFE, DRIFT, STRUCTURAL, STRESS).
//   - Confirm it: validate again against the state and prices of the moment,
//     apply it and append an immutable entry to the ledger.
//
// The pure functions Preview, Commit, Validate, NewSnapshot, Classify and
// PlanRebalance hold all the rules; Engine only adds the phase, the pending
// slot and serialization. Prices, quotes and the current time are always
// passed in through Inputs: the package never fetches, stores or renders anything.
package portfolio
