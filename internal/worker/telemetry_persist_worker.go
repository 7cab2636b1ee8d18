package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"tiendabot/internal/model"
	"tiendabot/internal/repository"
)

// TelemetryPersistWorker consumes turn-debug snapshots off the queue and
// writes them to storage, keeping telemetry out of the reply hot path.
type TelemetryPersistWorker struct {
	conn      *amqp.Connection
	repo      *repository.TurnDebugRepository
	queueName string
	logger    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTelemetryPersistWorker(conn *amqp.Connection, repo *repository.TurnDebugRepository, queueName string, logger zerolog.Logger) *TelemetryPersistWorker {
	return &TelemetryPersistWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
		logger:    logger.With().Str("component", "telemetry_worker").Logger(),
	}
}

func (w *TelemetryPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var record model.TurnDebug
				if err := json.Unmarshal(d.Body, &record); err != nil {
					w.logger.Error().Err(err).Msg("decode telemetry payload failed")
					_ = d.Nack(false, false)
					continue
				}

				if err := w.repo.Create(&record); err != nil {
					w.logger.Error().Err(err).Str("session_id", record.SessionID).Msg("persist telemetry failed")
					_ = d.Nack(false, false)
					continue
				}

				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *TelemetryPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
