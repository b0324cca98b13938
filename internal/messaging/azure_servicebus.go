package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/dockops/services/jobtracker/config"
)

// Event types published and consumed on the queue.
const (
	EventImportCompleted = "import.completed"
	EventImportRequested = "import.requested"
)

// Event is the JSON envelope for every queue message.
type Event struct {
	Type    string          `json:"ev"`
	Payload json.RawMessage `json:"payload"`
}

// EventHandler processes one decoded queue event. Returning an error
// abandons the message so the bus redelivers it.
type EventHandler func(ctx context.Context, event Event) error

// ServiceBusClient is an interface for Azure Service Bus operations
type ServiceBusClient interface {
	SendEvent(ctx context.Context, eventType string, payload interface{}) error
	ProcessMessages(ctx context.Context, handler EventHandler) error
	Close() error
}

// serviceBusClient implements the ServiceBusClient interface
type serviceBusClient struct {
	client     *azservicebus.Client
	sender     *azservicebus.Sender
	queueName  string
	clientType string
}

// mockServiceBusClient is a mock implementation for local development
type mockServiceBusClient struct {
	clientType string
}

// NewServiceBusClient creates a new Azure Service Bus client. Without a
// connection string it degrades to a mock that only logs, so local runs
// work without Azure.
func NewServiceBusClient(cfg config.AzureConfig, clientType string) (ServiceBusClient, error) {
	if cfg.QueueConnStr == "" {
		return &mockServiceBusClient{clientType: clientType}, nil
	}

	// Create the Service Bus client
	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	// Create a sender for the queue
	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &serviceBusClient{
		client:     client,
		sender:     sender,
		queueName:  cfg.QueueName,
		clientType: clientType,
	}, nil
}

// SendEvent sends one typed event to the queue
func (s *serviceBusClient) SendEvent(ctx context.Context, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	body, err := json.Marshal(Event{Type: eventType, Payload: data})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	// Create the message
	msg := &azservicebus.Message{
		Body: body,
		ApplicationProperties: map[string]interface{}{
			"source": s.clientType,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	// Send the message
	return s.sender.SendMessage(ctx, msg, nil)
}

// ProcessMessages receives queue events and hands them to the handler
// until the context is cancelled. Undecodable messages are completed and
// dropped; handler failures abandon the message for redelivery.
func (s *serviceBusClient) ProcessMessages(ctx context.Context, handler EventHandler) error {
	receiver, err := s.client.NewReceiverForQueue(s.queueName, nil)
	if err != nil {
		return fmt.Errorf("failed to create Service Bus receiver: %w", err)
	}
	defer receiver.Close(context.Background())

	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive messages: %w", err)
		}

		for _, msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				log.Warn().Err(err).Msg("dropping undecodable bus message")
				if err := receiver.CompleteMessage(ctx, msg, nil); err != nil {
					log.Error().Err(err).Msg("failed to complete bus message")
				}
				continue
			}

			if err := handler(ctx, event); err != nil {
				log.Error().Err(err).Str("event", event.Type).Msg("event handler failed, abandoning message")
				if err := receiver.AbandonMessage(ctx, msg, nil); err != nil {
					log.Error().Err(err).Msg("failed to abandon bus message")
				}
				continue
			}

			if err := receiver.CompleteMessage(ctx, msg, nil); err != nil {
				log.Error().Err(err).Msg("failed to complete bus message")
			}
		}
	}
}

// Close closes the Service Bus client
func (s *serviceBusClient) Close() error {
	// Close the sender
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}

	// Close the client
	if s.client != nil {
		return s.client.Close(context.Background())
	}

	return nil
}

// SendEvent implementation for mock client
func (m *mockServiceBusClient) SendEvent(ctx context.Context, eventType string, payload interface{}) error {
	log.Info().Str("source", m.clientType).Str("event", eventType).Msg("[MOCK ServiceBus] event sent")
	return nil
}

// ProcessMessages implementation for mock client blocks until shutdown
// so the worker loop behaves the same with or without a real queue.
func (m *mockServiceBusClient) ProcessMessages(ctx context.Context, handler EventHandler) error {
	<-ctx.Done()
	return nil
}

// Close implementation for mock client
func (m *mockServiceBusClient) Close() error {
	return nil
}
