package order

import (
	"context"

	"github.com/google/uuid"
)

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*Order, error)
	// FindLiveByBarcode returns the non-terminal order claiming the barcode,
	// or a NotFoundError when the barcode is free.
	FindLiveByBarcode(ctx context.Context, barcode string) (*Order, error)
	// UpdateStatus writes the new status plus its lifecycle timestamps. The
	// expected current status is part of the predicate so concurrent
	// transitions cannot double-apply.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, actor string) error
	List(ctx context.Context, status string, subjectID *uuid.UUID, limit, offset int) ([]*Order, int, error)
}

type ResultEntryRepository interface {
	CreateBatch(ctx context.Context, entries []*ResultEntry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*ResultEntry, error)
	// UpdateValue rewrites a reviewed entry's value and its recomputed flag.
	UpdateValue(ctx context.Context, id uuid.UUID, value float64, flagged bool, severity *string, referenceText string) error
}

type CommentRepository interface {
	// Add appends the comment at the next free position and returns it with
	// Position filled in.
	Add(ctx context.Context, c *Comment) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Comment, error)
	GetAt(ctx context.Context, orderID uuid.UUID, position int) (*Comment, error)
	UpdateAt(ctx context.Context, orderID uuid.UUID, position int, body string) error
	DeleteAt(ctx context.Context, orderID uuid.UUID, position int) error
}
