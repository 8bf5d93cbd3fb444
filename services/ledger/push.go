package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/services"
)

// IngestPush decodes a push delivery and ingests the decision it carries.
// Decoding failures are validation errors so the sender does not redeliver.
func (s *Service) IngestPush(ctx context.Context, envelope *PushEnvelope, actor string) (*IngestResult, error) {
	req, err := DecodePush(envelope)
	if err != nil {
		s.logger.Warn("rejected push delivery", zap.Error(err))
		return nil, err
	}
	req.Actor = actor
	if envelope.Message.MessageID != "" {
		s.logger.Debug("ingesting push delivery",
			zap.String("message_id", envelope.Message.MessageID),
			zap.String("subscription", envelope.Subscription),
		)
	}
	return s.Ingest(ctx, req)
}

// DecodePush extracts the ingest request from a push envelope
func DecodePush(envelope *PushEnvelope) (*IngestRequest, error) {
	if envelope == nil || strings.TrimSpace(envelope.Message.Data) == "" {
		return nil, services.NewValidationError("Invalid push envelope").WithDetail("reason", "message.data is required")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envelope.Message.Data))
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "Invalid push envelope", err).
			WithDetail("reason", "message.data is not base64")
	}

	var req IngestRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&req); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "Invalid push envelope", err).
			WithDetail("reason", "message.data is not a decision")
	}
	return &req, nil
}
