package account

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/ledger"
)

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// State is the full serializable snapshot of an Account: metadata,
// entrusts, trades, lots, assets table. internal/store encodes this as
// JSON; field names are part of the stable-within-a-major-release wire
// contract.
type State struct {
	Name       string
	Token      string
	Principal  string
	Commission string
	StartDate  time.Time
	EndDate    time.Time

	Cash        string
	Lots        map[string][]ledger.Lot
	Entrusts    []Entrust
	Trades      []Trade
	Assets      []AssetRow
	XDXRCursor  time.Time
	LastOrderAt time.Time
}

// Snapshot captures the account's full state for persistence.
func (a *Account) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return State{
		Name:        a.Name,
		Token:       a.Token,
		Principal:   a.Principal.String(),
		Commission:  a.Commission.String(),
		StartDate:   a.StartDate,
		EndDate:     a.EndDate,
		Cash:        a.cash.String(),
		Lots:        a.ledger.AllLots(),
		Entrusts:    append([]Entrust(nil), a.entrusts...),
		Trades:      append([]Trade(nil), a.trades...),
		Assets:      append([]AssetRow(nil), a.assets...),
		XDXRCursor:  a.xdxrCursor,
		LastOrderAt: a.lastOrderAt,
	}
}

// Restore rebuilds an Account from a previously-captured State. The
// caller is responsible for mapping the restored account's Token into
// the Registry.
func Restore(s State) (*Account, error) {
	principal, err := parseDecimal(s.Principal)
	if err != nil {
		return nil, err
	}
	commission, err := parseDecimal(s.Commission)
	if err != nil {
		return nil, err
	}
	cash, err := parseDecimal(s.Cash)
	if err != nil {
		return nil, err
	}

	return &Account{
		Name:        s.Name,
		Token:       s.Token,
		Principal:   principal,
		Commission:  commission,
		StartDate:   s.StartDate,
		EndDate:     s.EndDate,
		cash:        cash,
		ledger:      ledger.FromLots(s.Lots),
		entrusts:    append([]Entrust(nil), s.Entrusts...),
		trades:      append([]Trade(nil), s.Trades...),
		assets:      append([]AssetRow(nil), s.Assets...),
		xdxrCursor:  s.XDXRCursor,
		lastOrderAt: s.LastOrderAt,
	}, nil
}
