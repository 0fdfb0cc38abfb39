package source

import (
	"context"
	"errors"

	"github.com/timmy/safetrip/internal/domain"
)

// ErrNoData means the source answered but has nothing for the country.
// It is a normal outcome, not a failure.
var ErrNoData = errors.New("no data for country")

// Result is what one source returns for one country.
type Result struct {
	Alerts     []domain.Alert
	Background *domain.BackgroundInfo

	// Identity details some sources know about.
	Code    string
	FlagURL string

	// Raw is the upstream payload, kept for archiving.
	Raw []byte
}

// Source defines the interface for upstream advisory sources.
type Source interface {
	// GetSourceID returns the stable identifier stored on alerts.
	GetSourceID() string

	// Fetch returns the source's data for a normalized country name.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - country: lowercase catalog name.
	// Returns:
	//   - *Result: data for the country.
	//   - error: ErrNoData when the source has nothing, a transient
	//     domain error on transport or decode failure.
	Fetch(ctx context.Context, country string) (*Result, error)
}
