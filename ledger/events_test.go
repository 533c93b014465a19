package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

func billCreatedLog(contract common.Address, billID, amount *big.Int, beneficiary, sponsor common.Address) *gethtypes.Log {
	return &gethtypes.Log{
		Address: contract,
		Topics: []common.Hash{
			billCreatedTopic,
			common.BigToHash(billID),
			common.BytesToHash(beneficiary.Bytes()),
			common.BytesToHash(sponsor.Bytes()),
		},
		Data: common.BigToHash(amount).Bytes(),
	}
}

func TestDecodeBillCreated(t *testing.T) {
	contract := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	beneficiary := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	amount, _ := ParseAmount("10.5", TokenUBK)

	receipt := &gethtypes.Receipt{
		TxHash: common.HexToHash("0x01"),
		Logs: []*gethtypes.Log{
			// Unrelated log from another contract must be skipped.
			{Address: common.HexToAddress("0x00000000000000000000000000000000000000ff")},
			billCreatedLog(contract, big.NewInt(42), amount.Units(), beneficiary, sponsor),
		},
	}

	event, err := DecodeBillCreated(receipt, contract)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.BillID.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("bill id = %s, want 42", event.BillID)
	}
	if event.Sponsor != sponsor {
		t.Fatalf("sponsor = %s", event.Sponsor.Hex())
	}
	if event.Amount.String() != "10.5" {
		t.Fatalf("amount = %s, want 10.5", event.Amount)
	}
}

func TestDecodeBillCreatedMissingEvent(t *testing.T) {
	contract := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	receipt := &gethtypes.Receipt{
		TxHash: common.HexToHash("0x02"),
		Logs: []*gethtypes.Log{
			{Address: contract, Topics: []common.Hash{common.HexToHash("0xdead")}},
		},
	}
	if _, err := DecodeBillCreated(receipt, contract); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestDecodeBillCreatedNilReceipt(t *testing.T) {
	if _, err := DecodeBillCreated(nil, common.Address{}); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}
