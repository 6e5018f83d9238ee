package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"coursebot/internal/domain"
)

const retryAfterSeconds = "5"

// HandleServiceError maps domain errors to HTTP responses. A request the client abandoned gets no
// response body, only a log line.
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if err == nil {
		return
	}
	var writeErr error
	switch {
	case domain.IsCanceled(err) || errors.Is(r.Context().Err(), context.Canceled):
		logger.Info("client went away before the answer was ready", zap.Error(err))
		return

	case domain.IsValidation(err):
		writeErr = WriteBadRequest(w, messageOf(err), domain.DetailsOf(err))

	case domain.IsNotFound(err):
		writeErr = WriteNotFound(w, messageOf(err))

	case domain.IsIndexUnavailable(err):
		logger.Warn("index unavailable", zap.Error(err))
		writeErr = WriteServiceUnavailable(w, "The course index is not available yet. Please try again shortly.", retryAfterSeconds)

	case domain.IsEmbedding(err), domain.IsSynthesis(err):
		logger.Error("upstream collaborator failed", zap.String("kind", string(domain.KindOf(err))), zap.Error(err))
		writeErr = WriteUpstreamUnavailable(w, "A backing service did not respond in time. Please try again.")

	default:
		logger.Error("internal server error", zap.Error(err), zap.String("kind", string(domain.KindOf(err))))
		writeErr = WriteInternalServerError(w, "An internal error occurred")
	}
	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

func messageOf(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
