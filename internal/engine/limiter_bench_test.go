package engine

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkLimiter(b *testing.B) {
	for _, size := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("limit=%d", size), func(b *testing.B) {
			l := NewLimiter(size)
			defer l.Shutdown()
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = l.Go(ctx, func(ctx context.Context) error { return nil })
			}
			l.Wait()
		})
	}
}
