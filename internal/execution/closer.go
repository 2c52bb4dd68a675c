package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tpsl_monitor/internal/domain"

	"github.com/shopspring/decimal"
)

// Settler closes the position behind a triggered order.
type Settler interface {
	ClosePosition(ctx context.Context, order domain.ConditionalOrder, kind domain.TriggerKind, price decimal.Decimal) error
}

// JournalCloser is the default trigger consumer.
// It forwards the close to an optional Settler and records the outcome in an optional journal.
type JournalCloser struct {
	journal domain.TriggerJournal
	settler Settler
	now     func() time.Time
	logger  *slog.Logger
}

// NewJournalCloser creates a closer. Either dependency may be nil.
func NewJournalCloser(journal domain.TriggerJournal, settler Settler) *JournalCloser {
	return &JournalCloser{
		journal: journal,
		settler: settler,
		now:     time.Now,
		logger:  slog.Default().With("module", "tpsl_closer"),
	}
}

// OnTrigger handles one fired trigger. Its signature matches engine.TriggerFunc.
func (c *JournalCloser) OnTrigger(ctx context.Context, order domain.ConditionalOrder, kind domain.TriggerKind, price decimal.Decimal) error {
	c.logger.Info("🔔 Auto-closing position",
		slog.String("position", order.PositionID),
		slog.String("order", order.ID),
		slog.String("wallet", order.WalletAddress),
		slog.String("kind", strings.ToUpper(string(kind))),
		slog.String("price", price.String()),
	)

	var closeErr error
	if c.settler != nil {
		if err := c.settler.ClosePosition(ctx, order, kind, price); err != nil {
			closeErr = fmt.Errorf("close position %s: %w", order.PositionID, err)
		}
	}

	var journalErr error
	if c.journal != nil {
		rec := domain.NewTriggerRecord(order, kind, price, c.now())
		if closeErr != nil {
			rec.CloseError = closeErr.Error()
		}
		if err := c.journal.SaveTrigger(rec); err != nil {
			journalErr = fmt.Errorf("journal trigger %s: %w", order.ID, err)
		}
	}

	if closeErr == nil && journalErr == nil {
		c.logger.Info("✅ Position close handled", slog.String("position", order.PositionID))
	}
	return errors.Join(closeErr, journalErr)
}
