package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"gophergpt-bot/internal/model"
	"gophergpt-bot/internal/platform/rabbitmq"
)

type TranscriptSink interface {
	Create(ctx context.Context, entry *model.TranscriptEntry) error
}

// TranscriptPersistWorker drains the transcript queue into the archive.
// Entries that cannot be decoded or stored are dropped, not requeued.
type TranscriptPersistWorker struct {
	conn      *amqp.Connection
	sink      TranscriptSink
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTranscriptPersistWorker(conn *amqp.Connection, sink TranscriptSink, queueName string) *TranscriptPersistWorker {
	return &TranscriptPersistWorker{
		conn:      conn,
		sink:      sink,
		queueName: queueName,
	}
}

func (w *TranscriptPersistWorker) Start(ctx context.Context) error {
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

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
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
					slog.Warn("transcript deliveries closed", "queue", w.queueName)
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					slog.Error("persist transcript entry failed", "queue", w.queueName, "error", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *TranscriptPersistWorker) handle(ctx context.Context, body []byte) error {
	var entry model.TranscriptEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return fmt.Errorf("decode transcript entry failed: %w", err)
	}
	// Redelivered entries must not collide on the primary key.
	entry.ID = 0
	return w.sink.Create(ctx, &entry)
}

func (w *TranscriptPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
