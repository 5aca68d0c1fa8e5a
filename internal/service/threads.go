package service

import (
	"context"

	"course_messaging/internal/domain"
	"course_messaging/internal/repository"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// toPayloads attaches reply summaries to top-level messages with one
// aggregate lookup for the whole batch.
func toPayloads(ctx context.Context, reader repository.MessageReader, messages []*domain.Message) ([]*domain.MessagePayload, error) {
	parentIDs := lo.FilterMap(messages, func(m *domain.Message, _ int) (uuid.UUID, bool) {
		return m.ID, !m.IsReply()
	})

	summaries := map[uuid.UUID]domain.ReplySummary{}
	if len(parentIDs) > 0 {
		var err error
		summaries, err = reader.ReplySummaries(ctx, parentIDs)
		if err != nil {
			return nil, err
		}
	}

	return lo.Map(messages, func(m *domain.Message, _ int) *domain.MessagePayload {
		return domain.NewMessagePayload(m, summaries[m.ID])
	}), nil
}

func toPayload(ctx context.Context, reader repository.MessageReader, message *domain.Message) (*domain.MessagePayload, error) {
	payloads, err := toPayloads(ctx, reader, []*domain.Message{message})
	if err != nil {
		return nil, err
	}
	return payloads[0], nil
}

// loadPayload re-reads a message by id so the payload reflects committed
// joins (sender, pinnedBy, attachment).
func loadPayload(ctx context.Context, reader repository.MessageReader, id uuid.UUID) (*domain.MessagePayload, error) {
	message, err := reader.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toPayload(ctx, reader, message)
}

func parentSummary(ctx context.Context, reader repository.MessageReader, courseID, parentID uuid.UUID) (*domain.ReplySummaryPayload, error) {
	summaries, err := reader.ReplySummaries(ctx, []uuid.UUID{parentID})
	if err != nil {
		return nil, err
	}
	return domain.NewReplySummaryPayload(courseID, parentID, summaries[parentID]), nil
}
