package payment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testRecipient = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	testReference = "11111111111111111111111111111111"
)

func TestTransferRequestURL(t *testing.T) {
	uri, err := TransferRequestURL(TransactionParameters{
		Reference: testReference,
		Recipient: testRecipient,
		SPLToken:  USDCMint,
		Amount:    "10.00",
		Label:     "My%20Store",
		Memo:      "order-7",
	})
	require.NoError(t, err)
	require.Equal(t,
		"solana:"+testRecipient+"?amount=10&spl-token="+USDCMint+"&reference="+testReference+"&label=My+Store&memo=order-7",
		uri)
}

func TestTransferRequestURLOmitsEmptyToken(t *testing.T) {
	uri, err := TransferRequestURL(TransactionParameters{Recipient: testRecipient, Amount: "0.5"})
	require.NoError(t, err)
	require.Equal(t, "solana:"+testRecipient+"?amount=0.5", uri)
}

func TestTransferRequestURLRejectsBadKeys(t *testing.T) {
	_, err := TransferRequestURL(TransactionParameters{Recipient: "not-base58!", Amount: "1"})
	require.Error(t, err)

	_, err = TransferRequestURL(TransactionParameters{Recipient: testRecipient, Amount: "1", Reference: "bad"})
	require.Error(t, err)

	_, err = TransferRequestURL(TransactionParameters{Recipient: testRecipient, Amount: "zero"})
	require.Error(t, err)
}
