package handlers

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/malbeclabs/gameledger/api/metrics"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/mr-tron/base58"
)

const (
	HeaderSigner    = "X-Signer"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"

	maxBodyBytes = 1 << 20
	maxNonceLen  = 64
)

var (
	ErrMissingSignature   = faults.New(faults.KindAccessDenied, "MissingRequestSignature", "request is not signed")
	ErrMalformedSignature = faults.New(faults.KindInvalidParameter, "MalformedRequestSignature", "request signature headers are malformed")
	ErrStaleSignature     = faults.New(faults.KindAccessDenied, "StaleRequestSignature", "request timestamp is outside the accepted window")
	ErrInvalidSignature   = faults.New(faults.KindAccessDenied, "InvalidRequestSignature", "request signature does not verify")
	ErrMissingSigner      = faults.New(faults.KindAccessDenied, "MissingSigner", "request is missing a required signer")
	ErrReplayedSignature  = faults.New(faults.KindAccessDenied, "ReplayedRequestSignature", "request nonce was already used")
)

type signersKey struct{}

// SignersFromContext returns the verified signers of the request, in header order.
func SignersFromContext(ctx context.Context) []solana.PublicKey {
	signers, _ := ctx.Value(signersKey{}).([]solana.PublicKey)
	return signers
}

// SigningMessage is the byte string every signer signs: the timestamp, nonce, method and path
// on their own lines followed by the raw body.
func SigningMessage(timestamp int64, nonce, method, path string, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d\n%s\n%s\n%s\n", timestamp, nonce, method, path)
	buf.Write(body)
	return buf.Bytes()
}

// SignRequest sets the signature headers on req for body, one signature per key, under a
// fresh random nonce.
func SignRequest(req *http.Request, body []byte, now time.Time, keys ...solana.PrivateKey) error {
	ts := now.Unix()
	nonce := uuid.NewString()
	msg := SigningMessage(ts, nonce, req.Method, req.URL.Path, body)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderNonce, nonce)
	for _, k := range keys {
		if len(k) != ed25519.PrivateKeySize {
			return fmt.Errorf("invalid private key size: expected %d, got %d", ed25519.PrivateKeySize, len(k))
		}
		sig := ed25519.Sign(ed25519.PrivateKey(k), msg)
		req.Header.Add(HeaderSigner, k.PublicKey().String())
		req.Header.Add(HeaderSignature, base58.Encode(sig))
	}
	return nil
}

func headerValues(h http.Header, key string) []string {
	var out []string
	for _, v := range h.Values(key) {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// verifyRequest checks every signature on r and returns the signers in header order.
func (h *Handler) verifyRequest(r *http.Request, body []byte) ([]solana.PublicKey, error) {
	signerHeaders := headerValues(r.Header, HeaderSigner)
	sigHeaders := headerValues(r.Header, HeaderSignature)
	tsHeader := r.Header.Get(HeaderTimestamp)
	nonce := r.Header.Get(HeaderNonce)
	if len(signerHeaders) == 0 || len(sigHeaders) == 0 || tsHeader == "" || nonce == "" {
		metrics.RecordSignatureRejection("missing")
		return nil, ErrMissingSignature
	}
	if len(signerHeaders) != len(sigHeaders) {
		metrics.RecordSignatureRejection("malformed")
		return nil, ErrMalformedSignature.WithDetail("%d signers, %d signatures", len(signerHeaders), len(sigHeaders))
	}
	if len(nonce) > maxNonceLen || strings.ContainsAny(nonce, "\r\n") {
		metrics.RecordSignatureRejection("malformed")
		return nil, ErrMalformedSignature.WithDetail("nonce")
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		metrics.RecordSignatureRejection("malformed")
		return nil, ErrMalformedSignature.WithDetail("timestamp %q", tsHeader)
	}
	skew := h.cfg.Clock.Now().Sub(time.Unix(ts, 0))
	if skew > h.cfg.MaxClockSkew || skew < -h.cfg.MaxClockSkew {
		metrics.RecordSignatureRejection("stale")
		return nil, ErrStaleSignature.WithDetail("skew %s", skew.Truncate(time.Second))
	}

	msg := SigningMessage(ts, nonce, r.Method, r.URL.Path, body)
	signers := make([]solana.PublicKey, 0, len(signerHeaders))
	for i, s := range signerHeaders {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			metrics.RecordSignatureRejection("malformed")
			return nil, ErrMalformedSignature.WithDetail("signer %d", i)
		}
		raw, err := base58.Decode(sigHeaders[i])
		if err != nil || len(raw) != ed25519.SignatureSize {
			metrics.RecordSignatureRejection("malformed")
			return nil, ErrMalformedSignature.WithDetail("signature %d", i)
		}
		if !ed25519.Verify(ed25519.PublicKey(pk[:]), msg, raw) {
			metrics.RecordSignatureRejection("invalid")
			return nil, ErrInvalidSignature.WithDetail("signer %s", pk)
		}
		signers = append(signers, pk)
	}

	// A nonce outlives every timestamp that could still pass the skew check.
	ttl := 2 * h.cfg.MaxClockSkew
	for _, pk := range signers {
		fresh, err := h.cfg.Nonces.Claim(r.Context(), pk.String()+"/"+nonce, ttl)
		if err != nil {
			return nil, err
		}
		if !fresh {
			metrics.RecordSignatureRejection("replayed")
			return nil, ErrReplayedSignature.WithDetail("signer %s", pk)
		}
	}
	return signers, nil
}

// RequireSignatures verifies the request signatures and stores the signers in the context. The
// body is buffered so handlers can decode it afterwards.
func (h *Handler) RequireSignatures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.writeError(w, r, ErrMalformedSignature.WithDetail("body exceeds %d bytes", maxBodyBytes))
				return
			}
			h.writeError(w, r, fmt.Errorf("failed to read body: %w", err))
			return
		}
		signers, err := h.verifyRequest(r, body)
		if err != nil {
			h.log.Debug("handlers: signature rejected", "path", r.URL.Path, "error", err)
			h.writeError(w, r, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), signersKey{}, signers)))
	})
}

// signerAt returns the i-th verified signer.
func signerAt(signers []solana.PublicKey, i int) (solana.PublicKey, error) {
	if i >= len(signers) {
		return solana.PublicKey{}, ErrMissingSigner.WithDetail("want at least %d", i+1)
	}
	return signers[i], nil
}
