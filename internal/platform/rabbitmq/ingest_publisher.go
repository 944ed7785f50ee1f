package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// IngestJob asks the ingest worker to chunk, embed, and persist one stored
// document. JobID ties worker logs back to the upload request.
type IngestJob struct {
	JobID      string `json:"job_id"`
	UserID     uint   `json:"user_id"`
	DocumentID uint   `json:"document_id"`
}

// IngestPublisher enqueues document ingest jobs so large uploads do not block
// the HTTP request on embedding round-trips.
type IngestPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewIngestPublisher(conn *amqp.Connection, queueName string) *IngestPublisher {
	return &IngestPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

// Publish enqueues a job for the document and returns the job id.
func (p *IngestPublisher) Publish(ctx context.Context, userID, documentID uint) (string, error) {
	job := IngestJob{
		JobID:      uuid.NewString(),
		UserID:     userID,
		DocumentID: documentID,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal ingest job failed: %w", err)
	}
	if err := publishJSON(ctx, p.conn, p.queueName, payload); err != nil {
		return "", err
	}
	return job.JobID, nil
}
