package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/changegate/changegate/domain"
	pipelineserv "github.com/changegate/changegate/service/pipeline"
)

const signatureHeader = "X-Signature-256"

// PipelineWebhook ingests signed CI status reports. The signature is an
// HMAC SHA-256 over the raw body. Running without a secret disables
// verification; that opt-out is logged once per request so it never
// happens silently.
func PipelineWebhook(ctx context.Context, secret string, service pipelineserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			domain.NewErrorResponse(ctx, w, domain.ErrBadRequest, http.StatusBadRequest)

			return
		}

		if secret == "" {
			slog.Warn("pipeline webhook accepted without signature verification, no secret configured")
		} else if !verifySignature(secret, body, r.Header.Get(signatureHeader)) {
			slog.Error("pipeline webhook signature verification failed")
			domain.NewErrorResponse(ctx, w, domain.ErrUnauthorized, http.StatusUnauthorized)

			return
		}

		var report domain.PipelineReport
		if err := json.Unmarshal(body, &report); err != nil {
			slog.Error("failed to decode pipeline webhook payload", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrValidation, http.StatusBadRequest)

			return
		}

		resp, err := service.Ingest(ctx, report)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}

func verifySignature(secret string, payload []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return hmac.Equal(sig, mac.Sum(nil))
}
