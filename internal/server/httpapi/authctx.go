package httpapi

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const ownerIDKey ctxKey = "medsched.ownerID"

// WithOwnerID stores the authenticated account ID in context.
func WithOwnerID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerIDKey, id)
}

// OwnerIDFromCtx fetches the authenticated account ID from context.
func OwnerIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(ownerIDKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
