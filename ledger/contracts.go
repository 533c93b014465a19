package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI fragments for the two external contract surfaces. Only the entry
// points the relay actually exercises are declared.
const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"balance","type":"uint256"}]}
]`

const billABIJSON = `[
	{"type":"function","name":"createBill","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"sponsor","type":"address"},
		{"name":"paymentDestination","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"description","type":"string"}],
	 "outputs":[{"name":"billId","type":"uint256"}]},
	{"type":"function","name":"payBillWithEthOnBehalf","stateMutability":"payable",
	 "inputs":[
		{"name":"billId","type":"uint256"},
		{"name":"sponsor","type":"address"},
		{"name":"signature","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"payBillWithTokensOnBehalf","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"billId","type":"uint256"},
		{"name":"sponsor","type":"address"},
		{"name":"signature","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"rejectBillOnBehalf","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"billId","type":"uint256"},
		{"name":"sponsor","type":"address"},
		{"name":"signature","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"getBill","stateMutability":"view",
	 "inputs":[{"name":"billId","type":"uint256"}],
	 "outputs":[
		{"name":"id","type":"uint256"},
		{"name":"beneficiary","type":"address"},
		{"name":"paymentDestination","type":"address"},
		{"name":"sponsor","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"description","type":"string"},
		{"name":"status","type":"uint8"},
		{"name":"createdAt","type":"uint256"},
		{"name":"paidAt","type":"uint256"}]},
	{"type":"function","name":"getBeneficiaryBills","stateMutability":"view",
	 "inputs":[{"name":"beneficiary","type":"address"}],
	 "outputs":[{"name":"billIds","type":"uint256[]"}]},
	{"type":"function","name":"getSponsorBills","stateMutability":"view",
	 "inputs":[{"name":"sponsor","type":"address"}],
	 "outputs":[{"name":"billIds","type":"uint256[]"}]},
	{"type":"event","name":"BillCreated","anonymous":false,
	 "inputs":[
		{"name":"billId","type":"uint256","indexed":true},
		{"name":"beneficiary","type":"address","indexed":true},
		{"name":"sponsor","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]}
]`

var (
	erc20ABI = mustABI(erc20ABIJSON)
	billABI  = mustABI(billABIJSON)
)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}
