package repository

import (
	"context"
	"sync"
	"time"

	"alarmd/internal/model"

	"go.uber.org/zap"
)

// HistoryStore 展示记录的持久化
type HistoryStore interface {
	Insert(ctx context.Context, rec *model.AlarmRecord) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]model.AlarmRecord, error)
}

// Recorder 异步写入展示记录，展示的关闭路径从不等待数据库
type Recorder struct {
	store        HistoryStore
	queue        chan model.AlarmRecord
	writeTimeout time.Duration
	logger       *zap.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	started sync.Once
}

func NewRecorder(store HistoryStore, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:        store,
		queue:        make(chan model.AlarmRecord, 64),
		writeTimeout: 3 * time.Second,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// WithBufferSize 设置队列长度，必须在 Start 之前调用
func (r *Recorder) WithBufferSize(n int) *Recorder {
	if n > 0 {
		r.queue = make(chan model.AlarmRecord, n)
	}
	return r
}

// Start 启动后台写入协程
func (r *Recorder) Start() {
	r.started.Do(func() {
		go r.loop()
	})
}

// Record 入队，队列满或已关闭时丢弃并记录日志
func (r *Recorder) Record(_ context.Context, rec model.AlarmRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("Alarm history queue full, record dropped",
			zap.String("outcome", string(rec.Outcome)),
		)
	}
}

// Close 停止接收新记录，写完队列中剩余的记录后返回
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.Start()
	<-r.done
}

func (r *Recorder) loop() {
	defer close(r.done)
	for rec := range r.queue {
		r.write(rec)
	}
}

func (r *Recorder) write(rec model.AlarmRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	var taskID string
	if rec.TaskID != nil {
		taskID = *rec.TaskID
	}
	if _, err := r.store.Insert(ctx, &rec); err != nil {
		r.logger.Error("Failed to write alarm history",
			zap.String("task_id", taskID),
			zap.String("outcome", string(rec.Outcome)),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("Alarm history written",
		zap.Int64("id", rec.ID),
		zap.String("task_id", taskID),
	)
}

// NopHistory db.enabled=false 时使用：不记录，查询返回空
type NopHistory struct{}

func (NopHistory) Record(context.Context, model.AlarmRecord) {}

func (NopHistory) ListRecent(context.Context, int) ([]model.AlarmRecord, error) {
	return []model.AlarmRecord{}, nil
}
