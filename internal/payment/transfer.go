package payment

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// TransferRequestURL renders the Solana Pay transfer request URI a wallet scans from a QR code.
// Label, message and memo may arrive url-encoded from the payment config; they are decoded
// before being re-encoded into the URI.
func TransferRequestURL(p TransactionParameters) (string, error) {
	recipient, err := solana.PublicKeyFromBase58(p.Recipient)
	if err != nil {
		return "", fmt.Errorf("invalid recipient: %w", err)
	}
	amount, err := ParseAmount(p.Amount)
	if err != nil {
		return "", fmt.Errorf("invalid amount: %w", err)
	}

	// Field order follows the Solana Pay transfer request layout.
	var b strings.Builder
	b.WriteString("solana:")
	b.WriteString(recipient.String())
	b.WriteString("?amount=")
	b.WriteString(amount.String())

	if p.SPLToken != "" {
		mint, err := solana.PublicKeyFromBase58(p.SPLToken)
		if err != nil {
			return "", fmt.Errorf("invalid spl token: %w", err)
		}
		b.WriteString("&spl-token=")
		b.WriteString(mint.String())
	}
	if p.Reference != "" {
		ref, err := solana.PublicKeyFromBase58(p.Reference)
		if err != nil {
			return "", fmt.Errorf("invalid reference: %w", err)
		}
		b.WriteString("&reference=")
		b.WriteString(ref.String())
	}
	for _, kv := range [][2]string{{"label", p.Label}, {"message", p.Message}, {"memo", p.Memo}} {
		if kv[1] == "" {
			continue
		}
		b.WriteString("&")
		b.WriteString(kv[0])
		b.WriteString("=")
		b.WriteString(url.QueryEscape(decodeLenient(kv[1])))
	}
	return b.String(), nil
}

func decodeLenient(v string) string {
	decoded, err := url.QueryUnescape(v)
	if err != nil {
		return v
	}
	return decoded
}
