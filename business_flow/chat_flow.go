package businessflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/Kotodama/app/dto"
	"github.com/amirphl/Kotodama/app/queue"
	"github.com/amirphl/Kotodama/models"
	"github.com/amirphl/Kotodama/repository"
)

// ChatFlow manages chats under an application. Creation is fire-and-forget:
// the number is reserved synchronously, the row is persisted later by the
// creation worker.
type ChatFlow interface {
	CreateChat(ctx context.Context, appToken string) (*dto.CreateChatResponse, error)
	ListChats(ctx context.Context, appToken string, limit, offset int) ([]dto.ChatDTO, error)
	GetChat(ctx context.Context, appToken string, number int64) (*dto.ChatDTO, error)
	DeleteChat(ctx context.Context, appToken string, number int64) error
}

// ChatFlowImpl implements ChatFlow
type ChatFlowImpl struct {
	appRepo   repository.ApplicationRepository
	chatRepo  repository.ChatRepository
	sequencer SequencerFlow
	creations queue.Queue
}

// NewChatFlow creates a new chat flow
func NewChatFlow(
	appRepo repository.ApplicationRepository,
	chatRepo repository.ChatRepository,
	sequencer SequencerFlow,
	creations queue.Queue,
) ChatFlow {
	return &ChatFlowImpl{
		appRepo:   appRepo,
		chatRepo:  chatRepo,
		sequencer: sequencer,
		creations: creations,
	}
}

// CreateChat reserves the next chat number for the application and enqueues
// the asynchronous creation job. The returned number is final: even if the
// job is delivered late, twice, or out of order, the persisted chat carries
// exactly this number.
func (s *ChatFlowImpl) CreateChat(ctx context.Context, appToken string) (*dto.CreateChatResponse, error) {
	app, err := s.appRepo.ByToken(ctx, appToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	if app == nil {
		return nil, ErrApplicationNotFound
	}

	number, err := s.sequencer.ReserveChatNumber(ctx, app.ID)
	if err != nil {
		return nil, err
	}

	jid, err := s.creations.Enqueue(ctx, &queue.Job{
		Kind:          queue.JobKindChatCreation,
		ApplicationID: app.ID,
		Number:        number,
	})
	if err != nil {
		// The durable counter already advanced; the number stays unused
		// rather than reissued. Numbers are permanent, gaps are acceptable.
		log.Printf("chat flow: enqueue failed after reserving chat %d for application %d: %v", number, app.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	return &dto.CreateChatResponse{
		Number:  number,
		JobID:   jid,
		Message: fmt.Sprintf("chat with number %d will be created shortly", number),
	}, nil
}

func (s *ChatFlowImpl) ListChats(ctx context.Context, appToken string, limit, offset int) ([]dto.ChatDTO, error) {
	app, err := s.appRepo.ByToken(ctx, appToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	if app == nil {
		return nil, ErrApplicationNotFound
	}

	chats, err := s.chatRepo.ListByApplication(ctx, app.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	out := make([]dto.ChatDTO, 0, len(chats))
	for _, chat := range chats {
		out = append(out, toChatDTO(chat))
	}
	return out, nil
}

func (s *ChatFlowImpl) GetChat(ctx context.Context, appToken string, number int64) (*dto.ChatDTO, error) {
	chat, err := s.resolveChat(ctx, appToken, number)
	if err != nil {
		return nil, err
	}

	chatDTO := toChatDTO(chat)
	return &chatDTO, nil
}

// DeleteChat removes a chat without messages. The application's chat
// counter is not decremented and the freed number is never reissued;
// remaining chats keep their numbers.
func (s *ChatFlowImpl) DeleteChat(ctx context.Context, appToken string, number int64) error {
	chat, err := s.resolveChat(ctx, appToken, number)
	if err != nil {
		return err
	}

	hasMessages, err := s.chatRepo.HasMessages(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("failed to check chat messages: %w", err)
	}
	if hasMessages {
		return ErrChatHasMessages
	}

	return s.chatRepo.Delete(ctx, chat.ID)
}

func (s *ChatFlowImpl) resolveChat(ctx context.Context, appToken string, number int64) (*models.Chat, error) {
	app, err := s.appRepo.ByToken(ctx, appToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	if app == nil {
		return nil, ErrApplicationNotFound
	}

	chat, err := s.chatRepo.ByApplicationAndNumber(ctx, app.ID, number)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	return chat, nil
}

func toChatDTO(chat *models.Chat) dto.ChatDTO {
	return dto.ChatDTO{
		Number:        chat.Number,
		MessagesCount: chat.MessagesCount,
		CreatedAt:     chat.CreatedAt.Format(time.RFC3339),
	}
}
