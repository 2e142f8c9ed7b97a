// Package archive uploads the captured pack of held pushes to object
// storage so reviewers can inspect exactly what was pushed, long after
// the client connection is gone.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path"
	"time"

	work "git.sr.ht/~sircmpwn/dowork"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pushgate/pushgate/models"
)

// Archiver schedules background pack uploads. A nil Archiver is a no-op,
// matching the notify package's convention for unconfigured backends.
type Archiver struct {
	queue  *work.Queue
	client *s3.Client
	bucket string
	prefix string
	logger *log.Logger
}

// New builds an archiver against the given bucket. It loads AWS
// credentials from the ambient environment.
func New(ctx context.Context, bucket, prefix string, logger *log.Logger) (*Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &Archiver{
		queue:  work.NewQueue("archive"),
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Start begins processing queued uploads.
func (a *Archiver) Start(ctx context.Context) {
	if a == nil {
		return
	}
	a.queue.Start(ctx)
}

// Shutdown drains the queue.
func (a *Archiver) Shutdown() {
	if a == nil {
		return
	}
	a.queue.Shutdown()
}

// SchedulePack enqueues the upload of one captured pack. The pack slice
// must not be reused by the caller afterwards.
func (a *Archiver) SchedulePack(action *models.Action, pack []byte) {
	if a == nil || len(pack) == 0 {
		return
	}
	id := action.ID
	key := path.Join(a.prefix, "packs", action.RepoName(),
		fmt.Sprintf("%s.pack", id))
	task := work.NewTask(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(pack),
		})
		if err != nil {
			a.logger.Printf("Failed to archive pack for push %s: %v", id, err)
			return err
		}
		a.logger.Printf("Archived pack for push %s to s3://%s/%s", id, a.bucket, key)
		return nil
	}).Retries(3)
	a.queue.Enqueue(task)
}
