package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var billCreatedTopic = gethcrypto.Keccak256Hash([]byte("BillCreated(uint256,address,address,uint256)"))

// BillCreated is the decoded outcome of a successful createBill submission.
// The ledger assigns the bill identifier; it is never pre-allocated locally.
type BillCreated struct {
	BillID      *big.Int
	Beneficiary common.Address
	Sponsor     common.Address
	Amount      Amount
}

// DecodeBillCreated scans a receipt for the bill contract's BillCreated
// event. A missing event means the transaction succeeded at the network
// level without performing the expected domain effect, which is surfaced as
// ErrEventNotFound rather than assumed successful.
func DecodeBillCreated(receipt *gethtypes.Receipt, contract common.Address) (*BillCreated, error) {
	if receipt == nil {
		return nil, fmt.Errorf("%w: nil receipt", ErrEventNotFound)
	}
	for _, entry := range receipt.Logs {
		if entry == nil || entry.Address != contract {
			continue
		}
		if len(entry.Topics) != 4 || entry.Topics[0] != billCreatedTopic {
			continue
		}
		amount := new(big.Int)
		if len(entry.Data) >= 32 {
			amount.SetBytes(entry.Data[:32])
		}
		return &BillCreated{
			BillID:      new(big.Int).SetBytes(entry.Topics[1].Bytes()),
			Beneficiary: common.BytesToAddress(entry.Topics[2].Bytes()),
			Sponsor:     common.BytesToAddress(entry.Topics[3].Bytes()),
			Amount:      AmountFromUnits(amount, TokenUBK),
		}, nil
	}
	return nil, fmt.Errorf("%w: BillCreated in tx %s", ErrEventNotFound, receipt.TxHash.Hex())
}
