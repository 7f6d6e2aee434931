package abi

import (
	"bytes"
	"math/big"

	"github.com/pkg/errors"
	"github.com/sigurn/crc16"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

const getMethodsDictKeySz = 19

type ContractName string

const (
	JettonMaster  ContractName = "jetton_master"
	JettonWallet  ContractName = "jetton_wallet"
	NFTCollection ContractName = "nft_collection"
	NFTItem       ContractName = "nft_item"
)

// token event operation ids (TEP-74, TEP-62)
const (
	OpJettonTransfer uint32 = 0x0f8a7ea5
	OpJettonBurn     uint32 = 0x595f07bc
	OpNFTTransfer    uint32 = 0x5fcc3d14
)

type StackType string

const (
	VmInt   StackType = "int"
	VmCell  StackType = "cell"
	VmSlice StackType = "slice"
)

// formats
const (
	VmAddr        StackType = "addr"
	VmBool        StackType = "bool"
	VmBigInt      StackType = "bigInt"
	VmString      StackType = "string"
	VmBytes       StackType = "bytes"
	VmContentCell StackType = "content"
)

type VmValueDesc struct {
	Name      string    `json:"name"`
	StackType StackType `json:"stack_type"`
	Format    StackType `json:"format,omitempty"`
}

type GetMethodDesc struct {
	Name         string        `json:"name"`
	Arguments    []VmValueDesc `json:"arguments,omitempty"`
	ReturnValues []VmValueDesc `json:"return_values"`
}

// Get-method signatures of the four token interfaces. A contract
// belongs to an interface iff the getter succeeds and its return stack
// matches the descriptor exactly.

func GetJettonDataDesc() GetMethodDesc {
	return GetMethodDesc{
		Name: "get_jetton_data",
		ReturnValues: []VmValueDesc{
			{Name: "total_supply", StackType: VmInt, Format: VmBigInt},
			{Name: "mintable", StackType: VmInt, Format: VmBool},
			{Name: "admin_address", StackType: VmSlice, Format: VmAddr},
			{Name: "jetton_content", StackType: VmCell, Format: VmContentCell},
			{Name: "jetton_wallet_code", StackType: VmCell},
		},
	}
}

func GetWalletDataDesc() GetMethodDesc {
	return GetMethodDesc{
		Name: "get_wallet_data",
		ReturnValues: []VmValueDesc{
			{Name: "balance", StackType: VmInt, Format: VmBigInt},
			{Name: "owner", StackType: VmSlice, Format: VmAddr},
			{Name: "jetton", StackType: VmSlice, Format: VmAddr},
			{Name: "jetton_wallet_code", StackType: VmCell},
		},
	}
}

func GetCollectionDataDesc() GetMethodDesc {
	return GetMethodDesc{
		Name: "get_collection_data",
		ReturnValues: []VmValueDesc{
			{Name: "next_item_index", StackType: VmInt, Format: VmBigInt},
			{Name: "collection_content", StackType: VmCell, Format: VmContentCell},
			{Name: "owner_address", StackType: VmSlice, Format: VmAddr},
		},
	}
}

func GetNFTDataDesc() GetMethodDesc {
	return GetMethodDesc{
		Name: "get_nft_data",
		ReturnValues: []VmValueDesc{
			{Name: "init", StackType: VmInt, Format: VmBool},
			{Name: "index", StackType: VmInt, Format: VmBytes},
			{Name: "collection_address", StackType: VmSlice, Format: VmAddr},
			{Name: "owner_address", StackType: VmSlice, Format: VmAddr},
			{Name: "individual_content", StackType: VmCell},
		},
	}
}

func GetWalletAddressDesc() GetMethodDesc {
	return GetMethodDesc{
		Name: "get_wallet_address",
		Arguments: []VmValueDesc{
			{Name: "owner_address", StackType: VmSlice, Format: VmAddr},
		},
		ReturnValues: []VmValueDesc{
			{Name: "wallet_address", StackType: VmSlice, Format: VmAddr},
		},
	}
}

func GetNFTAddressByIndexDesc() GetMethodDesc {
	return GetMethodDesc{
		Name: "get_nft_address_by_index",
		Arguments: []VmValueDesc{
			{Name: "index", StackType: VmInt, Format: VmBytes},
		},
		ReturnValues: []VmValueDesc{
			{Name: "address", StackType: VmSlice, Format: VmAddr},
		},
	}
}

func GetNFTContentDesc() GetMethodDesc {
	return GetMethodDesc{
		Name: "get_nft_content",
		Arguments: []VmValueDesc{
			{Name: "index", StackType: VmInt, Format: VmBytes},
			{Name: "individual_content", StackType: VmCell},
		},
		ReturnValues: []VmValueDesc{
			{Name: "full_content", StackType: VmCell, Format: VmContentCell},
		},
	}
}

func MethodNameHash(name string) int32 {
	// https://github.com/ton-blockchain/ton/blob/24dc184a2ea67f9c47042b4104bbb4d82289fac1/crypto/smc-envelope/SmartContract.h#L75
	return int32(crc16.Checksum([]byte(name), crc16.MakeTable(crc16.CRC16_XMODEM))) | 0x10000
}

func getMethodsDict(code *cell.Cell) (*cell.Dictionary, error) {
	codeSlice := code.BeginParse()

	hdr, err := codeSlice.LoadSlice(56)
	if err != nil {
		return nil, errors.Wrap(err, "load slice")
	}

	// header contains methods dictionary
	// SETCP0
	// 19 DICTPUSHCONST
	// DICTIGETJMPZ
	if !bytes.Equal(hdr, []byte{0xFF, 0x00, 0xF4, 0xA4, 0x13, 0xF4, 0xBC}) {
		return nil, errors.New("cannot find methods dictionary header")
	}

	ref, err := codeSlice.LoadRef()
	if err != nil {
		return nil, errors.Wrap(err, "load ref")
	}

	dict, err := ref.ToDict(getMethodsDictKeySz)
	if err != nil {
		return nil, errors.Wrap(err, "ref to dict")
	}

	return dict, nil
}

func HasGetMethod(code *cell.Cell, getMethodName string) bool {
	var hash int64

	switch getMethodName {
	// reserved names cannot be used for get methods
	case "recv_internal", "main", "recv_external", "run_ticktock":
		return false
	default:
		hash = int64(MethodNameHash(getMethodName))
	}

	dict, err := getMethodsDict(code)
	if err != nil {
		return false
	}

	return dict.GetByIntKey(big.NewInt(hash)) != nil
}
