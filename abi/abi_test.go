package abi

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

func TestMethodNameHash(t *testing.T) {
	h := MethodNameHash("get_jetton_data")

	assert.Equal(t, h, MethodNameHash("get_jetton_data"))
	assert.NotEqual(t, h, MethodNameHash("get_wallet_data"))
	assert.NotZero(t, h&0x10000, "method ids carry the 17th bit")
}

func TestHasGetMethod_PlainCell(t *testing.T) {
	b := cell.BeginCell()
	require.NoError(t, b.StoreUInt(0xdead, 32))
	c := b.EndCell()

	assert.False(t, HasGetMethod(c, "get_jetton_data"))
	assert.False(t, HasGetMethod(c, "recv_internal"))
}

func TestGetterDescriptors(t *testing.T) {
	assert.Len(t, GetJettonDataDesc().ReturnValues, 5)
	assert.Len(t, GetWalletDataDesc().ReturnValues, 4)
	assert.Len(t, GetCollectionDataDesc().ReturnValues, 3)
	assert.Len(t, GetNFTDataDesc().ReturnValues, 5)

	assert.Len(t, GetWalletAddressDesc().Arguments, 1)
	assert.Len(t, GetNFTAddressByIndexDesc().Arguments, 1)
	assert.Len(t, GetNFTContentDesc().Arguments, 2)
}

func TestVmParseValueInt(t *testing.T) {
	tiny := tlb.VmStackValue{SumType: "VmStkTinyInt", VmStkTinyInt: -1}

	v, err := vmParseValue(&tiny, &VmValueDesc{Name: "flag", StackType: VmInt, Format: VmBool})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = vmParseValue(&tiny, &VmValueDesc{Name: "n", StackType: VmInt})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(-1), v)

	_, err = vmParseValue(&tiny, &VmValueDesc{Name: "c", StackType: VmCell})
	assert.ErrorIs(t, err, ErrStackMismatch)
}
