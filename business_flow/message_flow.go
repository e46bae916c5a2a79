package businessflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/amirphl/Kotodama/app/dto"
	"github.com/amirphl/Kotodama/app/queue"
	"github.com/amirphl/Kotodama/app/services"
	"github.com/amirphl/Kotodama/models"
	"github.com/amirphl/Kotodama/repository"
)

// MessageFlow manages messages under a chat. Creation mirrors ChatFlow:
// synchronous number reservation, asynchronous persistence and indexing.
// Listing optionally goes through the search index when a keyword is given;
// search visibility is eventually consistent with persistence.
type MessageFlow interface {
	CreateMessage(ctx context.Context, appToken string, chatNumber int64, req *dto.CreateMessageRequest) (*dto.CreateMessageResponse, error)
	ListMessages(ctx context.Context, appToken string, chatNumber int64, keyword string, limit, offset int) (*dto.ListMessagesResponse, error)
	GetMessage(ctx context.Context, appToken string, chatNumber, messageNumber int64) (*dto.MessageDTO, error)
	DeleteMessage(ctx context.Context, appToken string, chatNumber, messageNumber int64) error
}

// MessageFlowImpl implements MessageFlow
type MessageFlowImpl struct {
	appRepo   repository.ApplicationRepository
	chatRepo  repository.ChatRepository
	msgRepo   repository.MessageRepository
	sequencer SequencerFlow
	creations queue.Queue
	indexer   services.SearchIndexer
}

// NewMessageFlow creates a new message flow
func NewMessageFlow(
	appRepo repository.ApplicationRepository,
	chatRepo repository.ChatRepository,
	msgRepo repository.MessageRepository,
	sequencer SequencerFlow,
	creations queue.Queue,
	indexer services.SearchIndexer,
) MessageFlow {
	return &MessageFlowImpl{
		appRepo:   appRepo,
		chatRepo:  chatRepo,
		msgRepo:   msgRepo,
		sequencer: sequencer,
		creations: creations,
		indexer:   indexer,
	}
}

// CreateMessage reserves the next message number for the chat and enqueues
// the asynchronous creation job carrying the text payload.
func (s *MessageFlowImpl) CreateMessage(ctx context.Context, appToken string, chatNumber int64, req *dto.CreateMessageRequest) (*dto.CreateMessageResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrMessageTextRequired
	}

	chat, err := s.resolveChat(ctx, appToken, chatNumber)
	if err != nil {
		return nil, err
	}

	number, err := s.sequencer.ReserveMessageNumber(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	jid, err := s.creations.Enqueue(ctx, &queue.Job{
		Kind:   queue.JobKindMessageCreation,
		ChatID: chat.ID,
		Number: number,
		Text:   text,
	})
	if err != nil {
		log.Printf("message flow: enqueue failed after reserving message %d for chat %d: %v", number, chat.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	return &dto.CreateMessageResponse{
		Number:  number,
		JobID:   jid,
		Message: fmt.Sprintf("message with number %d will be created shortly", number),
	}, nil
}

func (s *MessageFlowImpl) ListMessages(ctx context.Context, appToken string, chatNumber int64, keyword string, limit, offset int) (*dto.ListMessagesResponse, error) {
	chat, err := s.resolveChat(ctx, appToken, chatNumber)
	if err != nil {
		return nil, err
	}

	var messages []*models.Message
	if keyword = strings.TrimSpace(keyword); keyword != "" {
		ids, err := s.indexer.SearchMessages(ctx, chat.ID, keyword)
		if err != nil {
			return nil, fmt.Errorf("failed to search messages: %w", err)
		}
		messages, err = s.msgRepo.ByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
	} else {
		messages, err = s.msgRepo.ListByChat(ctx, chat.ID, limit, offset)
		if err != nil {
			return nil, err
		}
	}

	out := make([]dto.MessageDTO, 0, len(messages))
	for _, msg := range messages {
		out = append(out, dto.MessageDTO{
			Number:    msg.Number,
			Text:      msg.Text,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		})
	}

	return &dto.ListMessagesResponse{
		Chat:     toChatDTO(chat),
		Messages: out,
	}, nil
}

func (s *MessageFlowImpl) GetMessage(ctx context.Context, appToken string, chatNumber, messageNumber int64) (*dto.MessageDTO, error) {
	chat, err := s.resolveChat(ctx, appToken, chatNumber)
	if err != nil {
		return nil, err
	}

	msg, err := s.msgRepo.ByChatAndNumber(ctx, chat.ID, messageNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}

	return &dto.MessageDTO{
		Number:    msg.Number,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339),
	}, nil
}

// DeleteMessage removes a single message. The chat's message counter keeps
// its value and the freed number leaves a permanent gap.
func (s *MessageFlowImpl) DeleteMessage(ctx context.Context, appToken string, chatNumber, messageNumber int64) error {
	chat, err := s.resolveChat(ctx, appToken, chatNumber)
	if err != nil {
		return err
	}

	msg, err := s.msgRepo.ByChatAndNumber(ctx, chat.ID, messageNumber)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil {
		return ErrMessageNotFound
	}

	return s.msgRepo.Delete(ctx, msg.ID)
}

func (s *MessageFlowImpl) resolveChat(ctx context.Context, appToken string, chatNumber int64) (*models.Chat, error) {
	app, err := s.appRepo.ByToken(ctx, appToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	if app == nil {
		return nil, ErrApplicationNotFound
	}

	chat, err := s.chatRepo.ByApplicationAndNumber(ctx, app.ID, chatNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	return chat, nil
}
