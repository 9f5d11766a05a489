// Package httpsig implements HTTP Signatures (draft-cavage-12) rsa-sha256
// signing and verification (spec.md component 4.4), on top of
// code.superseriousbusiness.org/httpsig for the signature-string
// construction and cryptographic check, with this package owning PEM
// parsing, the digest/date rules, and actor-URI extraction from keyId.
package httpsig

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sigs "code.superseriousbusiness.org/httpsig"
)

// Failure taxonomy (spec.md 4.4). Wrapped with fmt.Errorf so callers can
// still read the underlying library error via %w / errors.Is.
var (
	ErrMissingSignatureHeader  = errors.New("httpsig: missing signature header")
	ErrInvalidSignatureHeader  = errors.New("httpsig: invalid signature header")
	ErrMissingSignedHeaders    = errors.New("httpsig: missing required signed headers")
	ErrUnsupportedAlgorithm    = errors.New("httpsig: unsupported algorithm")
	ErrMissingDate             = errors.New("httpsig: missing date")
	ErrInvalidDate             = errors.New("httpsig: invalid date")
	ErrSignatureExpired        = errors.New("httpsig: signature expired")
	ErrMissingDigest           = errors.New("httpsig: missing digest")
	ErrDigestMismatch          = errors.New("httpsig: digest mismatch")
	ErrInvalidSignatureEncoding = errors.New("httpsig: invalid signature encoding")
	ErrInvalidPublicKey        = errors.New("httpsig: invalid public key")
	ErrSignatureInvalid        = errors.New("httpsig: signature invalid")
)

// DefaultMaxAge is the signature freshness window (spec.md section 6,
// signature_max_age).
const DefaultMaxAge = 30 * time.Second

// ParsePrivateKey accepts both legacy PKCS#1 ("RSA PRIVATE KEY") and modern
// PKCS#8 ("PRIVATE KEY") PEM encodings, since older federation peers and
// older copies of this instance's own keys may use either.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("httpsig: decode private key PEM: no PEM block found")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("httpsig: parse pkcs8 private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("httpsig: pkcs8 key is not RSA")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("httpsig: unsupported private key PEM type %q", block.Type)
	}
}

// ParsePublicKey accepts both legacy PKCS#1 ("RSA PUBLIC KEY") and modern
// PKIX ("PUBLIC KEY") PEM encodings, for the same reason as ParsePrivateKey.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("httpsig: decode public key PEM: no PEM block found")
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("httpsig: parse pkix public key: %w", err)
		}
		rsaKey, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("httpsig: pkix key is not RSA")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("httpsig: unsupported public key PEM type %q", block.Type)
	}
}

// SignRequest signs req in place with the draft-cavage rsa-sha256 scheme.
// req must already carry Host, Date, and (for non-GET requests, or any
// request that already carries one) Digest headers; SignRequest does not
// compute them itself, matching SafeHTTP's and Publisher's existing
// responsibility for building those headers before signing.
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	if req.Host == "" {
		req.Host = req.URL.Host
	}

	headers := []string{sigs.RequestTarget, "host", "date"}
	if req.Method != http.MethodGet || req.Header.Get("Digest") != "" {
		headers = append(headers, "digest")
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("httpsig: read request body: %w", err)
		}
		body = b
		req.Body = io.NopCloser(bytes.NewReader(b))
	}
	if req.Header.Get("Digest") != "" {
		// The caller already built Digest; handing the body to the library
		// would make it try to add a second one, which it refuses.
		body = nil
	}

	signer, _, err := sigs.NewSigner([]sigs.Algorithm{sigs.RSA_SHA256}, sigs.DigestSha256, headers, sigs.Signature, 0)
	if err != nil {
		return fmt.Errorf("httpsig: build signer: %w", err)
	}
	if err := signer.SignRequest(privateKey, keyId, req, body); err != nil {
		return fmt.Errorf("httpsig: sign request: %w", err)
	}
	return nil
}

// ExtractKeyID reads the keyId a request's Signature header claims, without
// verifying anything — callers use this to look up which actor's public key
// to verify against before calling VerifyRequest/VerifyRequestWithMaxAge.
func ExtractKeyID(req *http.Request) (string, error) {
	verifier, err := sigs.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingSignatureHeader, err)
	}
	return verifier.KeyId(), nil
}

// VerifyRequest runs the full verification sequence from spec.md 4.4 using
// the default signature freshness window, and returns the actor URI (keyId
// with any #fragment stripped).
func VerifyRequest(req *http.Request, publicKeyPEM string) (string, error) {
	return VerifyRequestWithMaxAge(req, publicKeyPEM, DefaultMaxAge)
}

// VerifyRequestWithMaxAge is VerifyRequest with an explicit freshness
// window, for callers that read signature_max_age from configuration.
func VerifyRequestWithMaxAge(req *http.Request, publicKeyPEM string, maxAge time.Duration) (string, error) {
	pubKey, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	dateHeader := req.Header.Get("Date")
	if dateHeader == "" {
		return "", ErrMissingDate
	}
	reqDate, err := http.ParseTime(dateHeader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	if age := time.Since(reqDate); age > maxAge || age < -maxAge {
		return "", ErrSignatureExpired
	}

	digestHeader := req.Header.Get("Digest")
	if digestHeader != "" || req.Method == http.MethodPost {
		var raw []byte
		if req.Body != nil {
			b, err := io.ReadAll(req.Body)
			if err != nil {
				return "", fmt.Errorf("httpsig: read request body: %w", err)
			}
			raw = b
		}
		if digestHeader == "" {
			return "", ErrMissingDigest
		}
		sum := sha256.Sum256(raw)
		expected := "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(digestHeader), []byte(expected)) != 1 {
			return "", ErrDigestMismatch
		}
	}

	verifier, err := sigs.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingSignatureHeader, err)
	}

	if err := verifier.Verify(pubKey, sigs.RSA_SHA256); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	keyId := verifier.KeyId()
	if idx := strings.Index(keyId, "#"); idx >= 0 {
		return keyId[:idx], nil
	}
	return keyId, nil
}
