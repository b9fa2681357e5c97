// Package signature implements the signature engine (C8): asymmetric
// signing and verification of attestations and approvals. The minimum
// supported algorithm is RSA-SHA256 with a modulus of at least 2048
// bits, using stdlib crypto/rsa and crypto/sha256 — the universal,
// provider-neutral choice for PKCS#1 v1.5 signatures over SPKI keys,
// not an ecosystem library decision (every Go TLS/PKI stack reaches
// for crypto/rsa itself; there is no idiomatic third-party substitute
// the pack's examples reach for instead). See DESIGN.md.
package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"integritykernel.dev/kernel/khash"
	"integritykernel.dev/kernel/kernelerr"
)

// Algorithm is a supported signature algorithm identifier.
type Algorithm string

const (
	AlgRSASHA256 Algorithm = "RSA-SHA256"
)

const minRSAModulusBits = 2048

// ParsePublicKeyPEM decodes a PEM/SPKI-encoded RSA public key.
func ParsePublicKeyPEM(pemBytes string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemBytes))
	if block == nil {
		return nil, kernelerr.New(kernelerr.AttestationSignatureInvalid, "public key is not valid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, kernelerr.New(kernelerr.AttestationSignatureInvalid, "public key is not a valid SPKI block: "+err.Error())
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, kernelerr.New(kernelerr.AttestationSignatureInvalid, "public key is not an RSA key")
	}
	if rsaPub.N.BitLen() < minRSAModulusBits {
		return nil, kernelerr.New(kernelerr.AttestationSignatureInvalid, "RSA modulus below minimum of 2048 bits")
	}
	return rsaPub, nil
}

// MarshalPublicKeyPEM encodes pub as PEM/SPKI, the wire format every
// RunnerIdentity/Approver public key is stored in (§6).
func MarshalPublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// Sign computes payloadHash = sha256_hex(canonical(payloadExcludingSignature))
// then signs the hex-digest bytes with RSA-SHA256 (§4.8's hash-then-sign
// loop: the payload hash is the only thing ever signed).
func Sign(priv *rsa.PrivateKey, payload map[string]any) (payloadHash string, signatureB64 string, alg Algorithm, err error) {
	payloadHash, err = khash.ContentHash(payload)
	if err != nil {
		return "", "", "", err
	}
	digest := sha256.Sum256([]byte(payloadHash))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", "", "", err
	}
	return payloadHash, base64.StdEncoding.EncodeToString(sig), AlgRSASHA256, nil
}

// Verify recomputes payloadHash from payload, compares it against the
// caller-supplied expectedPayloadHash (constant-time), and then
// verifies the asymmetric signature. Any mismatch is a single
// ATTESTATION_SIGNATURE_INVALID/APPROVAL_INVALID-coded failure;
// callers choose which code to wrap this in for their artifact kind.
func Verify(pub *rsa.PublicKey, alg Algorithm, payload map[string]any, expectedPayloadHash, signatureB64 string) error {
	if alg != AlgRSASHA256 {
		return kernelerr.New(kernelerr.AttestationSignatureInvalid, "unsupported signature algorithm: "+string(alg))
	}
	recomputed, err := khash.ContentHash(payload)
	if err != nil {
		return err
	}
	if !khash.ConstantTimeEqualHex(recomputed, expectedPayloadHash) {
		return kernelerr.New(kernelerr.AttestationSignatureInvalid, "payloadHash does not match the recomputed canonical hash")
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return kernelerr.New(kernelerr.AttestationSignatureInvalid, "signature is not valid base64")
	}
	digest := sha256.Sum256([]byte(recomputed))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return kernelerr.New(kernelerr.AttestationSignatureInvalid, "signature verification failed")
	}
	return nil
}

// SupportedAlgorithm reports whether alg is one the engine can verify,
// used by validators to fail closed on an unsupported algorithm (§4.8).
func SupportedAlgorithm(alg string) bool {
	return Algorithm(alg) == AlgRSASHA256
}
