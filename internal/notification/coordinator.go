package notification

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nao1215/fandomfeed/pkg/telemetry"
)

// tracerName はこのパッケージのスパンに付けるトレーサー名。
const tracerName = "github.com/nao1215/fandomfeed/internal/notification"

// CoordinatorOption はコーディネーターの設定を変更する関数。
type CoordinatorOption func(*coordinatorOptions)

type coordinatorOptions struct {
	now    func() time.Time
	tracer trace.Tracer
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.now = now
	}
}

func newCoordinatorOptions(opts []CoordinatorOption) coordinatorOptions {
	o := coordinatorOptions{
		now:    func() time.Time { return time.Now() },
		tracer: telemetry.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	// 保存値と比較できるよう、ミリ秒に丸めたUTCを返す。
	now := o.now
	o.now = func() time.Time { return now().UTC().Truncate(time.Millisecond) }
	return o
}
