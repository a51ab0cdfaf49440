package service

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/pkg/bulk"
)

// fakeDispatcher 捕获下发分片的假调度器
// failAction 非空时只拒绝该动作的分片，用于模拟部分组失败
type fakeDispatcher struct {
	published  []bulk.Chunk
	publishErr error
	failAction string
}

func (f *fakeDispatcher) Publish(ctx context.Context, chunk bulk.Chunk) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	if f.failAction != "" && chunk.Action == f.failAction {
		return errors.New("dispatch rejected")
	}
	f.published = append(f.published, chunk)
	return nil
}

func (f *fakeDispatcher) Start() {}
func (f *fakeDispatcher) Stop()  {}

func setupQueueSvcTest(t *testing.T) (*QueueService, *fakeDispatcher, repository.UpdateQueueRepository) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.UpdateQueue{}); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	dispatcher := &fakeDispatcher{}
	queueRepo := repository.NewUpdateQueueRepository(db)
	svc := NewQueueService(queueRepo, dispatcher)
	return svc, dispatcher, queueRepo
}

func TestQueueSvc_EnqueueValidation(t *testing.T) {
	svc, _, queueRepo := setupQueueSvcTest(t)
	ctx := context.Background()

	if err := svc.Enqueue(ctx, 1, "rename", []int64{1}); err == nil {
		t.Fatal("未知动作应报错")
	}

	// 空 ID 集合为 no-op
	if err := svc.Enqueue(ctx, 1, model.QueueActionUpsert, nil); err != nil {
		t.Fatalf("空集合入队不应报错: %v", err)
	}
	entries, _ := queueRepo.ListByStatus(ctx, model.QueueStatusNew, 10)
	if len(entries) != 0 {
		t.Fatal("空集合不应写入队列记录")
	}
}

func TestQueueSvc_EnqueueDeduplicates(t *testing.T) {
	svc, _, queueRepo := setupQueueSvcTest(t)
	ctx := context.Background()

	if err := svc.Enqueue(ctx, 1, model.QueueActionUpsert, []int64{5, 3, 5, 1, 3}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	entries, err := queueRepo.ListByStatus(ctx, model.QueueStatusNew, 10)
	if err != nil {
		t.Fatalf("查询队列失败: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("队列记录数 = %d, want 1", len(entries))
	}
	if entries[0].ProductIDCount != 3 {
		t.Fatalf("去重后 ID 数 = %d, want 3", entries[0].ProductIDCount)
	}
	want := []int64{1, 3, 5}
	for i, id := range entries[0].ProductIDs {
		if id != want[i] {
			t.Fatalf("ID 应排序去重: %v", entries[0].ProductIDs)
		}
	}
}

func TestQueueSvc_ProcessQueueMergesByStoreAndAction(t *testing.T) {
	svc, dispatcher, queueRepo := setupQueueSvcTest(t)
	ctx := context.Background()

	// 同店铺同动作的两条记录合并，不同动作/店铺各自成批
	mustEnqueue(t, svc, 1, model.QueueActionUpsert, []int64{1, 2})
	mustEnqueue(t, svc, 1, model.QueueActionUpsert, []int64{2, 3})
	mustEnqueue(t, svc, 1, model.QueueActionDelete, []int64{9})
	mustEnqueue(t, svc, 2, model.QueueActionUpsert, []int64{1})

	if err := svc.ProcessQueue(ctx); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}

	if len(dispatcher.published) != 3 {
		t.Fatalf("分片数 = %d, want 3", len(dispatcher.published))
	}

	var upsertStore1 *bulk.Chunk
	for i := range dispatcher.published {
		c := &dispatcher.published[i]
		if c.StoreID == 1 && c.Action == model.QueueActionUpsert {
			upsertStore1 = c
		}
	}
	if upsertStore1 == nil {
		t.Fatal("缺少 store 1 的 upsert 分片")
	}
	// 合并去重: {1,2} ∪ {2,3} = {1,2,3}
	if len(upsertStore1.ProductIDs) != 3 {
		t.Fatalf("合并后 ID 数 = %d, want 3: %v", len(upsertStore1.ProductIDs), upsertStore1.ProductIDs)
	}

	// 全部条目转 done
	processing, _ := queueRepo.ListByStatus(ctx, model.QueueStatusProcessing, 10)
	if len(processing) != 0 {
		t.Fatalf("残留 processing 条目 %d 条", len(processing))
	}
}

func TestQueueSvc_ProcessQueueChunksLargeBatches(t *testing.T) {
	svc, dispatcher, _ := setupQueueSvcTest(t)
	ctx := context.Background()

	ids := make([]int64, 5)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	mustEnqueue(t, svc, 1, model.QueueActionUpsert, ids)

	svc.chunkSize = 2

	if err := svc.ProcessQueue(ctx); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}

	if len(dispatcher.published) != 3 {
		t.Fatalf("分片数 = %d, want 3 (2+2+1)", len(dispatcher.published))
	}

	// 同一批分片共享 batch ID
	batchID := dispatcher.published[0].BatchID
	if batchID == "" {
		t.Fatal("分片应携带 batch ID")
	}
	for _, c := range dispatcher.published {
		if c.BatchID != batchID {
			t.Fatal("同一批分片的 batch ID 应一致")
		}
	}
}

func TestQueueSvc_PublishFailureRequeuesEntries(t *testing.T) {
	svc, dispatcher, queueRepo := setupQueueSvcTest(t)
	ctx := context.Background()

	mustEnqueue(t, svc, 1, model.QueueActionUpsert, []int64{1})
	dispatcher.publishErr = errors.New("queue full")

	if err := svc.ProcessQueue(ctx); err == nil {
		t.Fatal("下发失败应向上报错")
	}

	// 失败的条目退回 new 等待下一轮认领，不得滞留 processing
	renewed, _ := queueRepo.ListByStatus(ctx, model.QueueStatusNew, 10)
	if len(renewed) != 1 {
		t.Fatalf("new 条目数 = %d, want 1", len(renewed))
	}
	if renewed[0].StartedAt != nil {
		t.Fatal("退回的条目应清除 StartedAt")
	}
	done, _ := queueRepo.ListByStatus(ctx, model.QueueStatusDone, 10)
	if len(done) != 0 {
		t.Fatal("失败批次不应有 done 条目")
	}

	// 故障恢复后下一轮正常处理完
	dispatcher.publishErr = nil
	if err := svc.ProcessQueue(ctx); err != nil {
		t.Fatalf("恢复后 ProcessQueue() error = %v", err)
	}
	done, _ = queueRepo.ListByStatus(ctx, model.QueueStatusDone, 10)
	if len(done) != 1 {
		t.Fatalf("恢复后 done 条目数 = %d, want 1", len(done))
	}
}

func TestQueueSvc_GroupFailureDoesNotBlockOtherGroups(t *testing.T) {
	svc, dispatcher, queueRepo := setupQueueSvcTest(t)
	ctx := context.Background()

	mustEnqueue(t, svc, 1, model.QueueActionUpsert, []int64{1, 2})
	mustEnqueue(t, svc, 1, model.QueueActionDelete, []int64{9})
	dispatcher.failAction = model.QueueActionDelete

	if err := svc.ProcessQueue(ctx); err == nil {
		t.Fatal("组内失败应向上报错")
	}

	// 成功的组照常 done，失败的组退回 new
	done, _ := queueRepo.ListByStatus(ctx, model.QueueStatusDone, 10)
	if len(done) != 1 || done[0].Action != model.QueueActionUpsert {
		t.Fatalf("upsert 组应已完成: %+v", done)
	}
	renewed, _ := queueRepo.ListByStatus(ctx, model.QueueStatusNew, 10)
	if len(renewed) != 1 || renewed[0].Action != model.QueueActionDelete {
		t.Fatalf("delete 组应退回 new: %+v", renewed)
	}
	processing, _ := queueRepo.ListByStatus(ctx, model.QueueStatusProcessing, 10)
	if len(processing) != 0 {
		t.Fatalf("不应残留 processing 条目: %d", len(processing))
	}

	// 故障恢复后第二轮把退回的组处理完
	dispatcher.failAction = ""
	if err := svc.ProcessQueue(ctx); err != nil {
		t.Fatalf("恢复后 ProcessQueue() error = %v", err)
	}
	done, _ = queueRepo.ListByStatus(ctx, model.QueueStatusDone, 10)
	if len(done) != 2 {
		t.Fatalf("恢复后 done 条目数 = %d, want 2", len(done))
	}
}

func mustEnqueue(t *testing.T, svc *QueueService, storeID int64, action string, ids []int64) {
	t.Helper()
	if err := svc.Enqueue(context.Background(), storeID, action, ids); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
}
