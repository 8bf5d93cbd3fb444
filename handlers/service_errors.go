package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/services"
	"github.com/upb/decision-audit/backend/utils"
)

// HandleServiceError maps domain errors to HTTP responses. Details are always
// surfaced; internal failures hide their message.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := services.HTTPStatus(err)
	errType := services.GetErrorType(err)
	if errType == "" {
		errType = services.ErrorTypeInternal
	}

	message := "An internal error occurred"
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) && errType != services.ErrorTypeInternal {
		message = domainErr.Message
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("service error",
			zap.String("error_type", string(errType)),
			zap.Int("status", status),
			zap.Error(err))
	default:
		logger.Debug("handled service error",
			zap.String("error_type", string(errType)),
			zap.Int("status", status),
			zap.Error(err))
	}

	if werr := utils.WriteError(w, status, string(errType), message, services.GetErrorDetails(err)); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr))
	}
}

// HandleValidationError handles errors from request decoding and struct
// validation
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
