package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"serenity-backend/internal/models"
	"serenity-backend/internal/repository"
	"serenity-backend/internal/services"
)

const (
	indexQueue    = "queue:document-indexing"
	maxJobRetries = 3
)

// Pool consumes document-indexing jobs from redis: extract text, chunk,
// embed each chunk, store the vectors.
type Pool struct {
	redis       *redis.Client
	gemini      *services.GeminiService
	fileExtract *services.FileExtractService
	jobRepo     *repository.JobRepo
	docRepo     *repository.DocumentRepo
	snippetRepo *repository.SnippetRepo
	workerCount int
	stopChan    chan struct{}
}

func NewPool(
	redisClient *redis.Client,
	gemini *services.GeminiService,
	fileExtract *services.FileExtractService,
	jobRepo *repository.JobRepo,
	docRepo *repository.DocumentRepo,
	snippetRepo *repository.SnippetRepo,
	workerCount int,
) *Pool {
	return &Pool{
		redis:       redisClient,
		gemini:      gemini,
		fileExtract: fileExtract,
		jobRepo:     jobRepo,
		docRepo:     docRepo,
		snippetRepo: snippetRepo,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	log.Printf("Started %d indexing workers", p.workerCount)
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		// BLPOP with 30s timeout
		result, err := p.redis.BLPop(ctx, 30*time.Second, indexQueue).Result()
		if err != nil {
			continue // Timeout or error, retry
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Worker %d: failed to parse job: %v", id, err)
			continue
		}

		// Try to acquire lock
		lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
		locked, err := p.redis.SetNX(ctx, lockKey, "1", 10*time.Minute).Result()
		if err != nil || !locked {
			continue // Another worker has this job
		}

		log.Printf("Worker %d: indexing document %s (job %s)", id, job.DocumentID, job.ID)
		p.jobRepo.UpdateStatus(ctx, job.ID, "processing")

		if err := p.indexDocument(ctx, &job); err != nil {
			p.handleFailure(ctx, &job, err)
		} else {
			p.handleSuccess(ctx, &job)
		}

		p.redis.Del(ctx, lockKey)
	}
}

func (p *Pool) indexDocument(ctx context.Context, job *models.Job) error {
	doc, err := p.docRepo.GetByID(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	p.docRepo.UpdateStatus(ctx, doc.ID, "indexing")

	text, err := p.fileExtract.ExtractTextFromPath(doc.FilePath)
	if err != nil {
		return fmt.Errorf("text extraction failed: %w", err)
	}

	chunks := services.SplitChunks(text)
	if len(chunks) == 0 {
		return fmt.Errorf("document produced no indexable chunks")
	}

	// Re-indexing replaces previous chunks instead of stacking them.
	if err := p.snippetRepo.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}

	for i, chunk := range chunks {
		embedding, err := p.gemini.EmbedText(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embedding chunk %d failed: %w", i, err)
		}
		if err := p.snippetRepo.InsertChunk(ctx, doc.ID, i, chunk, embedding); err != nil {
			return fmt.Errorf("storing chunk %d failed: %w", i, err)
		}
	}

	if err := p.docRepo.MarkIndexed(ctx, doc.ID, len(chunks)); err != nil {
		return fmt.Errorf("failed to mark document indexed: %w", err)
	}

	return nil
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()

	if job.RetryCount < maxJobRetries {
		log.Printf("Job %s failed (attempt %d): %s — retrying", job.ID, job.RetryCount, errMsg)
		p.jobRepo.UpdateStatus(ctx, job.ID, "pending")
		p.jobRepo.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

		// Re-queue after backoff
		jobBytes, _ := json.Marshal(job)
		backoff := time.Duration(1<<uint(job.RetryCount)) * time.Second
		time.AfterFunc(backoff, func() {
			p.redis.LPush(context.Background(), indexQueue, string(jobBytes))
		})
		return
	}

	log.Printf("Job %s failed permanently: %s", job.ID, errMsg)
	p.jobRepo.UpdateStatus(ctx, job.ID, "failed")
	p.jobRepo.UpdateError(ctx, job.ID, errMsg, job.RetryCount)
	p.docRepo.UpdateStatus(ctx, job.DocumentID, "failed")
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.Job) {
	p.jobRepo.UpdateStatus(ctx, job.ID, "completed")
	log.Printf("Job %s completed successfully", job.ID)
}
