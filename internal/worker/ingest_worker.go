package worker

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/platform/rabbitmq"
)

// ProcessFunc runs the ingestion pipeline for a stored document.
type ProcessFunc func(ctx context.Context, userID, documentID uint) error

// IngestWorker consumes queued ingest jobs and runs chunking plus embedding
// off the upload request path. Failed jobs are requeued once; a second
// failure drops the job so a poisonous document cannot loop forever.
type IngestWorker struct {
	conn      *amqp.Connection
	process   ProcessFunc
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, process ProcessFunc, queueName string) *IngestWorker {
	return &IngestWorker{
		conn:      conn,
		process:   process,
		queueName: queueName,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	deliveries, ch, err := consumeQueue(w.conn, w.queueName)
	if err != nil {
		cancel()
		return err
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
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	var job rabbitmq.IngestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Printf("worker decode ingest job failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if err := w.process(ctx, job.UserID, job.DocumentID); err != nil {
		requeue := !d.Redelivered
		log.Printf("worker ingest job %s (document %d) failed, requeue=%t: %v",
			job.JobID, job.DocumentID, requeue, err)
		_ = d.Nack(false, requeue)
		return
	}

	log.Printf("worker ingest job %s processed document %d", job.JobID, job.DocumentID)
	_ = d.Ack(false)
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
