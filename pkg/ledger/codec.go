package ledger

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// tableCodec encodes maps with sorted keys so equal tables always yield equal bytes.
var tableCodec = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

type balanceTable map[AccountKey]int64

type expirableTable map[AccountKey][]ExpirableTransaction

func decodeBalances(raw []byte) (balanceTable, error) {
	table := balanceTable{}
	if len(raw) == 0 {
		return table, nil
	}
	if err := tableCodec.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, balancesKey, err)
	}
	if table == nil {
		table = balanceTable{}
	}
	return table, nil
}

func encodeBalances(table balanceTable) ([]byte, error) {
	return tableCodec.Marshal(table)
}

func decodeExpirable(raw []byte) (expirableTable, error) {
	table := expirableTable{}
	if len(raw) == 0 {
		return table, nil
	}
	if err := tableCodec.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, expirableTransactionsKey, err)
	}
	if table == nil {
		table = expirableTable{}
	}
	return table, nil
}

func encodeExpirable(table expirableTable) ([]byte, error) {
	return tableCodec.Marshal(table)
}
