package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkgkafka "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/kafka"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/logger"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/domain"
)

// Kafka topics for user lifecycle events.
var (
	TopicUserRegistered      = pkgkafka.Topic("user", "registered")
	TopicUserLoggedIn        = pkgkafka.Topic("user", "logged_in")
	TopicUserUpdated         = pkgkafka.Topic("user", "updated")
	TopicUserPasswordChanged = pkgkafka.Topic("user", "password_changed")
)

// AggregateTypeUser is the aggregate type of every event published here.
const AggregateTypeUser = "user"

// SourceAuthService identifies events originating from the auth service.
const SourceAuthService = "auth-service"

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UserLoggedInData is the payload for a user.logged_in event.
type UserLoggedInData struct {
	ID         string    `json:"id"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// UserUpdatedData is the payload for a user.updated event.
type UserUpdatedData struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UserPasswordChangedData is the payload for a user.password_changed event.
type UserPasswordChangedData struct {
	UserID string `json:"user_id"`
}

// Publisher writes an event to a topic. *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Discard is a Publisher that drops every event. It is used when Kafka is disabled.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, string, *pkgkafka.Event) error { return nil }

// Producer publishes user domain events.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, user.ID, UserRegisteredData{
		ID:        user.ID,
		Email:     user.Email,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
}

// PublishUserLoggedIn publishes a user.logged_in event.
func (p *Producer) PublishUserLoggedIn(ctx context.Context, user *domain.User, at time.Time) error {
	return p.publish(ctx, TopicUserLoggedIn, user.ID, UserLoggedInData{
		ID:         user.ID,
		LoggedInAt: at.UTC(),
	})
}

// PublishUserUpdated publishes a user.updated event.
func (p *Producer) PublishUserUpdated(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserUpdated, user.ID, UserUpdatedData{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
}

// PublishPasswordChanged publishes a user.password_changed event.
func (p *Producer) PublishPasswordChanged(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicUserPasswordChanged, userID, UserPasswordChangedData{UserID: userID})
}

func (p *Producer) publish(ctx context.Context, topic, userID string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, userID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("user_id", userID),
	)
	return nil
}
