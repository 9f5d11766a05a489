package delivery

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/deemkeen/apcore/federation/httpsig"
)

// safeHTTPPoster is the one safehttp.Client method SafeHTTPSender needs.
// Declared here, rather than importing safehttp.Client's concrete type,
// so this package stays satisfiable by any SSRF-hardened poster.
type safeHTTPPoster interface {
	SignedPost(ctx context.Context, rawURL string, body []byte, privateKey *rsa.PrivateKey, keyId string) ([]byte, int, error)
}

// SafeHTTPSender adapts a safeHTTPPoster (which signs with a parsed
// *rsa.PrivateKey) to the Sender interface worker.go depends on, which
// carries keys around as PEM strings — matching how KeyStore hands them out
// after decrypting the vault.
type SafeHTTPSender struct {
	client safeHTTPPoster
}

func NewSafeHTTPSender(client safeHTTPPoster) *SafeHTTPSender {
	return &SafeHTTPSender{client: client}
}

func (s *SafeHTTPSender) SignedPostPEM(ctx context.Context, inboxURL, keyID, privatePEM string, body []byte) (int, error) {
	privKey, err := httpsig.ParsePrivateKey(privatePEM)
	if err != nil {
		return 0, fmt.Errorf("delivery: parse signer private key: %w", err)
	}
	_, status, err := s.client.SignedPost(ctx, inboxURL, body, privKey, keyID)
	if err != nil {
		return 0, err
	}
	return status, nil
}
