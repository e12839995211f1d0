package ledger

const (
	currencyKey              = "currency"
	minterKey                = "minter"
	balancesKey              = "balances"
	expirableTransactionsKey = "expirable_transactions"

	// ExpirationPeriod is the number of logical time units an expirable credit stays spendable.
	ExpirationPeriod int64 = 3600

	compositeKeySeparator = "\x00"

	operationInitLedger     = "init_ledger"
	operationMint           = "mint"
	operationTransfer       = "transfer"
	operationTransferFrom   = "transfer_from"
	operationBatchTransfer  = "batch_transfer"
	operationRefund         = "refund"
	operationBatchRefund    = "batch_refund"
	operationBalanceOf      = "balance_of"
	operationBatchBalanceOf = "batch_balance_of"
	operationAllBalances    = "all_balances"
	operationCurrency       = "currency"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
