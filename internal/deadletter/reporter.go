// Package deadletter publishes abandoned delivery jobs to an SQS queue so
// operators can see and replay what the retry policy gave up on.
package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"echopush/internal/jobstore"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type Reporter struct {
	SQS      SQSSender
	QueueURL string
}

type abandonedJobMessage struct {
	JobKey      string `json:"jobKey"`
	EchoID      string `json:"echoId"`
	UserID      string `json:"userId"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"lastError"`
	AbandonedAt string `json:"abandonedAt"`
}

func (r *Reporter) ReportAbandoned(ctx context.Context, job jobstore.Job, lastErr string) error {
	body, err := json.Marshal(abandonedJobMessage{
		JobKey:      job.Key,
		EchoID:      job.Payload.EchoID,
		UserID:      job.Payload.UserID,
		Attempts:    job.Attempt,
		LastError:   lastErr,
		AbandonedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	_, err = r.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(r.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	return err
}
