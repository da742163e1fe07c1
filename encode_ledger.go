package portfolio

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// entryJSON is the wire form of a LedgerEntry, with the payload left raw until
// the kind is known.
type entryJSON struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	Before    Snapshot        `json:"before"`
	After     Snapshot        `json:"after"`
	Boundary  Boundary        `json:"boundary"`
	Payload   json.RawMessage `json:"payload"`
}

// UnmarshalJSON implements the json.Unmarshaler interface for LedgerEntry.
// The payload is decoded into the action type named by the kind field.
func (e *LedgerEntry) UnmarshalJSON(data []byte) error {
	var temp entryJSON
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	payload, err := decodePayload(temp.Kind, temp.Payload)
	if err != nil {
		return fmt.Errorf("entry %s: %w", temp.ID, err)
	}
	*e = LedgerEntry{
		ID:        temp.ID,
		Seq:       temp.Seq,
		Timestamp: temp.Timestamp,
		Kind:      temp.Kind,
		Before:    temp.Before,
		After:     temp.After,
		Boundary:  temp.Boundary,
		Payload:   payload,
	}
	return nil
}

func decodePayload(k Kind, raw json.RawMessage) (Action, error) {
	var err error
	switch k {
	case KindAddFunds:
		var a AddFunds
		err = json.Unmarshal(raw, &a)
		return a, err
	case KindTrade:
		var a Trade
		err = json.Unmarshal(raw, &a)
		return a, err
	case KindProtect:
		var a Protect
		err = json.Unmarshal(raw, &a)
		return a, err
	case KindBorrow:
		var a Borrow
		err = json.Unmarshal(raw, &a)
		return a, err
	case KindRepay:
		var a Repay
		err = json.Unmarshal(raw, &a)
		return a, err
	case KindRebalance:
		var a Rebalance
		err = json.Unmarshal(raw, &a)
		return a, err
	case KindLiquidation:
		var a Liquidation
		err = json.Unmarshal(raw, &a)
		return a, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
}

// DecodeAction decodes a JSON payload of the given kind.
func DecodeAction(k Kind, data []byte) (Action, error) {
	return decodePayload(k, data)
}

// EncodeEntry writes one entry as a single JSON line.
func EncodeEntry(w io.Writer, e LedgerEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// EncodeLedger writes every entry of the ledger as JSONL, in order.
func EncodeLedger(w io.Writer, l *Ledger) error {
	for e := range l.Entries() {
		if err := EncodeEntry(w, e); err != nil {
			return fmt.Errorf("could not encode entry %d: %w", e.Seq, err)
		}
	}
	return nil
}

// DecodeLedger reads a stream of JSONL entries and rebuilds the ledger. The
// entries must be in sequence.
func DecodeLedger(r io.Reader) (*Ledger, error) {
	ledger := NewLedger()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue // Skip empty lines
		}
		var e LedgerEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("could not decode line %q: %w", string(line), err)
		}
		if _, err := ledger.Append(e); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading from input: %w", err)
	}
	return ledger, nil
}
