package cart

import "context"

// TotalsReader is the read side needed to compute totals. Sums are computed by the store
// in a single aggregate query each.
type TotalsReader interface {
	// FindOpenCart returns nil, nil when no open cart matches.
	FindOpenCart(ctx context.Context, lookup Lookup) (*Cart, error)
	SumLineTotals(ctx context.Context, cartID string) (int64, error)
	SumCredits(ctx context.Context, cartID string) (int64, error)
}

// Store persists carts, lines and credits.
type Store interface {
	TotalsReader
	CreateCart(ctx context.Context, c Cart) (*Cart, error)
	ListLines(ctx context.Context, cartID string) ([]Line, error)
	// FindLine returns nil, nil when no line with the product and option set exists.
	FindLine(ctx context.Context, cartID, productID, optionKey string) (*Line, error)
	GetLine(ctx context.Context, cartID, lineID string) (*Line, error)
	InsertLine(ctx context.Context, l Line) (*Line, error)
	UpdateLine(ctx context.Context, l Line) error
	DeleteLine(ctx context.Context, cartID, lineID string) error
	DeleteLines(ctx context.Context, cartID string) error
	SetShipping(ctx context.Context, cartID string, s *SelectedShipping) error
	InsertCredit(ctx context.Context, c Credit) (*Credit, error)
	ListCredits(ctx context.Context, cartID string) ([]Credit, error)
	SetUser(ctx context.Context, cartID, userID string) error
}
