package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/api/metrics"
)

// Request signature headers.
const (
	HeaderSigner    = "X-Dispatch-Signer"
	HeaderTimestamp = "X-Dispatch-Timestamp"
	HeaderSignature = "X-Dispatch-Signature"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMalformedHeader  = errors.New("malformed signature header")
	ErrClockSkew        = errors.New("request timestamp outside allowed window")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrReplayedRequest  = errors.New("request signature already used")
)

// ReplayGuard remembers accepted request signatures.
type ReplayGuard interface {
	// Remember records sig until expiresAt and returns false when it was already recorded.
	Remember(ctx context.Context, sig solana.Signature, expiresAt time.Time) (bool, error)
}

type contextKey string

const signerContextKey contextKey = "signer"

// SigningMessage returns the bytes a client signs for a request.
func SigningMessage(method, path string, timestamp int64, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(timestamp, 10))
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes()
}

// SignRequest sets the signature headers on req for body, signed by key at ts.
func SignRequest(req *http.Request, key solana.PrivateKey, ts time.Time, body []byte) error {
	unix := ts.Unix()
	sig, err := key.Sign(SigningMessage(req.Method, req.URL.Path, unix, body))
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	req.Header.Set(HeaderSigner, key.PublicKey().String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(unix, 10))
	req.Header.Set(HeaderSignature, sig.String())
	return nil
}

// verifyRequest checks the signature headers of r against body and returns the signer and
// its signature.
func (h *Handlers) verifyRequest(r *http.Request, body []byte) (solana.PublicKey, solana.Signature, error) {
	signerHeader := r.Header.Get(HeaderSigner)
	tsHeader := r.Header.Get(HeaderTimestamp)
	sigHeader := r.Header.Get(HeaderSignature)
	if signerHeader == "" || tsHeader == "" || sigHeader == "" {
		return solana.PublicKey{}, solana.Signature{}, ErrMissingSignature
	}

	signer, err := solana.PublicKeyFromBase58(signerHeader)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, fmt.Errorf("%w: signer: %v", ErrMalformedHeader, err)
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedHeader, err)
	}
	sig, err := solana.SignatureFromBase58(sigHeader)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, fmt.Errorf("%w: signature: %v", ErrMalformedHeader, err)
	}

	skew := h.cfg.Clock.Now().Sub(time.Unix(ts, 0))
	if skew > h.cfg.MaxSkew || skew < -h.cfg.MaxSkew {
		return solana.PublicKey{}, solana.Signature{}, ErrClockSkew
	}

	if !sig.Verify(signer, SigningMessage(r.Method, r.URL.Path, ts, body)) {
		return solana.PublicKey{}, solana.Signature{}, ErrInvalidSignature
	}
	return signer, sig, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingSignature):
		return "missing"
	case errors.Is(err, ErrMalformedHeader):
		return "malformed"
	case errors.Is(err, ErrClockSkew):
		return "skew"
	case errors.Is(err, ErrReplayedRequest):
		return "replay"
	default:
		return "invalid"
	}
}

// RequireSignature authenticates the request signer and makes it available to handlers
// through SignerFromContext. Each signature is accepted once. The body is restored for the
// next handler.
func (h *Handlers) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, "BodyTooLarge", "request body too large")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		signer, sig, err := h.verifyRequest(r, body)
		if err == nil {
			// Twice the skew window outlasts every timestamp the skew check still accepts.
			fresh, rerr := h.cfg.Replay.Remember(r.Context(), sig, h.cfg.Clock.Now().Add(2*h.cfg.MaxSkew))
			if rerr != nil {
				h.writeError(w, r, rerr)
				return
			}
			if !fresh {
				err = ErrReplayedRequest
			}
		}
		if err != nil {
			metrics.SignatureRejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
			h.log.Debug("api: rejected request signature", "path", r.URL.Path, "error", err)
			writeErrorResponse(w, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), signerContextKey, signer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SignerFromContext returns the authenticated signer of a request.
func SignerFromContext(ctx context.Context) (solana.PublicKey, bool) {
	signer, ok := ctx.Value(signerContextKey).(solana.PublicKey)
	return signer, ok
}
