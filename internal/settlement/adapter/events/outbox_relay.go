package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

// Publisher 事件发布端口
type Publisher interface {
	Publish(ctx context.Context, kind string, payload []byte, partitionKey string) error
}

// OutboxRelay 轮询发件箱，把已提交的结算事件转发给报表 / 票据协作方
type OutboxRelay struct {
	logger    *zap.Logger
	outbox    domain.OutboxRepository
	publisher Publisher
	interval  time.Duration
	batchSize int
}

func NewOutboxRelay(logger *zap.Logger, outbox domain.OutboxRepository, publisher Publisher, interval time.Duration, batchSize int) *OutboxRelay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		logger: logger, outbox: outbox, publisher: publisher, interval: interval, batchSize: batchSize,
	}
}

// Run 阻塞直到 ctx 取消
func (w *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("outbox iteration failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce 发布一批未发布事件，返回成功条数
// 单条失败不影响其它分区键；同一分区键的后续事件留到下一轮，保持顺序
func (w *OutboxRelay) ProcessOnce(ctx context.Context) (int, error) {
	records, err := w.outbox.FetchUnpublished(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	published := 0
	blocked := make(map[string]bool)
	for _, rec := range records {
		if blocked[rec.PartitionKey] {
			continue
		}
		now := time.Now().UTC()
		if err := w.publisher.Publish(ctx, string(rec.Kind), rec.Payload, rec.PartitionKey); err != nil {
			blocked[rec.PartitionKey] = true
			w.logger.Error("publish settlement event failed",
				zap.String("event_id", rec.ID),
				zap.String("event", string(rec.Kind)),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err),
			)
			if markErr := w.outbox.MarkFailed(ctx, rec.ID, err.Error(), now); markErr != nil {
				w.logger.Error("mark outbox failed", zap.String("event_id", rec.ID), zap.Error(markErr))
			}
			continue
		}
		if err := w.outbox.MarkPublished(ctx, rec.ID, now); err != nil {
			// 未标记的事件会被重发，后续事件也一起顺延
			blocked[rec.PartitionKey] = true
			w.logger.Error("mark outbox published", zap.String("event_id", rec.ID), zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}
