package workqueue

import (
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

type DoWorkPieceFunc func(piece int)

// ParallelizeUntil 用 workers 个协程并行处理 pieces 个独立任务，直到完成或 ctx 取消
// 单个任务 panic 只影响该任务
func ParallelizeUntil(ctx context.Context, workers, pieces int, doWorkPiece DoWorkPieceFunc) {
	if pieces <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if workers <= 0 {
		workers = 1
	}
	if pieces < workers {
		workers = pieces
	}

	toProcess := make(chan int, pieces)
	for i := 0; i < pieces; i++ {
		toProcess <- i
	}
	close(toProcess)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for piece := range toProcess {
				select {
				case <-ctx.Done():
					return
				default:
					runPiece(piece, doWorkPiece)
				}
			}
		}()
	}
	wg.Wait()
}

func runPiece(piece int, doWorkPiece DoWorkPieceFunc) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("work piece panic",
				zap.Int("piece", piece),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	doWorkPiece(piece)
}
