package ledger

import "context"

// stateView layers an operation-scoped write-through overlay over a StateTx so
// later reads in the same operation observe earlier writes. A view never outlives
// the operation that created it.
type stateView struct {
	tx     StateTx
	writes map[string][]byte
}

func newStateView(tx StateTx) *stateView {
	return &stateView{tx: tx, writes: make(map[string][]byte)}
}

func (view *stateView) GetState(ctx context.Context, key string) ([]byte, error) {
	if value, ok := view.writes[key]; ok {
		return cloneBytes(value), nil
	}
	return view.tx.GetState(ctx, key)
}

func (view *stateView) PutState(ctx context.Context, key string, value []byte) error {
	if err := view.tx.PutState(ctx, key, value); err != nil {
		return err
	}
	view.writes[key] = cloneBytes(value)
	return nil
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	cloned := make([]byte, len(value))
	copy(cloned, value)
	return cloned
}
