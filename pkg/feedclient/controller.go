package feedclient

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nao1215/fandomfeed/pkg/event"
)

// flushTimeout はパネルを閉じたときの一括反映に許す時間。
const flushTimeout = 10 * time.Second

// State は通知パネルの状態。
type State int

const (
	// StateIdle はパネルが閉じている状態。
	StateIdle State = iota
	// StateLoading はフィードを取得中の状態。
	StateLoading
	// StateLoaded はフィードを取得済みの状態。
	StateLoaded
	// StateError はフィードの取得に失敗した状態。
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StateLoaded:
		return "Loaded"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// FeedAPI はControllerが使う通知サービスの操作。*Clientが実装する。
type FeedAPI interface {
	Feed(ctx context.Context, isHidden *bool) ([]Entry, error)
	MarkViewed(ctx context.Context, ids []int64) error
	Hide(ctx context.Context, ids []int64) error
}

// Snapshot はControllerの状態のコピー。
type Snapshot struct {
	State State
	// Entries は表示中のエントリ。非表示待ちのエントリは含まない。
	Entries []Entry
	// Details は通知IDごとの表示用情報。取得前や失敗時は空。
	Details map[int64]Details
	// Unread は未読表示の有無。
	Unread bool
	// Err は直近のフィード取得エラー。パネル内でのみ表示する。
	Err error
}

// Option はControllerの設定を変更する関数。
type Option func(*Controller)

// WithEnricher はパネルを開いたときに表示用情報を取得するEnricherを設定する。
func WithEnricher(e *Enricher) Option {
	return func(c *Controller) {
		c.enricher = e
	}
}

// Controller は1つの通知パネルの状態を管理する。メソッドは並行に呼び出してよい。
type Controller struct {
	api      FeedAPI
	enricher *Enricher

	mu           sync.Mutex
	state        State
	entries      []Entry
	details      map[int64]Details
	err          error
	unread       bool
	open         bool
	pending      map[int64]struct{}
	fetchSeq     uint64
	pushSeq      uint64
	enrichCancel context.CancelFunc
}

// NewController は新しいControllerを生成する。
func NewController(api FeedAPI, opts ...Option) *Controller {
	c := &Controller{
		api:     api,
		state:   StateIdle,
		details: make(map[int64]Details),
		pending: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh は非表示でないフィードを取得する。成功すると未読表示を再計算し、
// 失敗しても未読表示は変更しない。古い取得結果は新しい取得結果を上書きしない。
// パネルが閉じている間は状態と表示中のエントリを変更せず、未読表示だけを更新する。
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.fetchSeq++
	seq := c.fetchSeq
	if c.open {
		c.state = StateLoading
	}
	c.mu.Unlock()

	visible := false
	entries, err := c.api.Feed(ctx, &visible)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.fetchSeq {
		return err
	}
	if err != nil {
		if c.open {
			c.state = StateError
			c.err = err
		}
		return err
	}
	c.unread = hasUnread(entries)
	if c.open {
		c.state = StateLoaded
		c.err = nil
		c.entries = entries
	}
	return nil
}

// HandlePush はプッシュ通知を受けて未読表示を立て、フィードを再取得して整合させる。
func (c *Controller) HandlePush(ctx context.Context) {
	c.mu.Lock()
	c.unread = true
	c.pushSeq++
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		log.Printf("[FeedClient] プッシュ受信後のフィード再取得に失敗: %v", err)
	}
}

// Run はeventsから届くNotificationCreatedイベントを処理する。
// ctxのキャンセルまたはeventsのクローズで戻る。
func (c *Controller) Run(ctx context.Context, events <-chan event.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Type == event.TypeNotificationCreated {
				c.HandlePush(ctx)
			}
		}
	}
}

// OpenPanel はパネルを開いてフィードを取得し、Enricherがあれば表示用情報の取得を開始する。
// 表示用情報の取得はClosePanelでキャンセルされる。
func (c *Controller) OpenPanel(ctx context.Context) error {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		return err
	}
	if c.enricher == nil {
		return nil
	}

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	if c.enrichCancel != nil {
		c.enrichCancel()
	}
	enrichCtx, cancel := context.WithCancel(ctx)
	c.enrichCancel = cancel
	entries := append([]Entry(nil), c.entries...)
	c.mu.Unlock()

	go func() {
		details, err := c.enricher.Enrich(enrichCtx, entries)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("[FeedClient] 表示用情報の取得に失敗: %v", err)
			}
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if enrichCtx.Err() != nil {
			return
		}
		for id, d := range details {
			c.details[id] = d
		}
	}()
	return nil
}

// Hide はパネルを開いている間、通知を非表示待ちにする。反映はClosePanelで行う。
// パネルが閉じている場合はfalseを返す。
func (c *Controller) Hide(notificationID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.pending[notificationID] = struct{}{}
	return true
}

// ClosePanel は表示用情報の取得をキャンセルしてパネルを閉じ、
// 非表示待ちの通知のHideと、残りの未読通知のMarkViewedを送信する。
// 送信はctxのキャンセルの影響を受けない。返されたチャネルには送信結果が1度だけ届く。
func (c *Controller) ClosePanel(ctx context.Context) <-chan error {
	c.mu.Lock()
	if c.enrichCancel != nil {
		c.enrichCancel()
		c.enrichCancel = nil
	}
	hideIDs := make([]int64, 0, len(c.pending))
	for id := range c.pending {
		hideIDs = append(hideIDs, id)
	}
	var viewIDs []int64
	for _, e := range c.entries {
		if _, ok := c.pending[e.ID]; ok || e.IsViewed {
			continue
		}
		viewIDs = append(viewIDs, e.ID)
	}
	c.pending = make(map[int64]struct{})
	// 取得中のフィードの結果は破棄する。
	c.fetchSeq++
	c.open = false
	c.state = StateIdle
	c.err = nil
	seq := c.pushSeq
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer close(done)
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer cancel()

		var errs []error
		if err := c.api.Hide(flushCtx, hideIDs); err != nil {
			errs = append(errs, err)
		}
		if err := c.api.MarkViewed(flushCtx, viewIDs); err != nil {
			errs = append(errs, err)
		}
		err := errors.Join(errs...)
		if err != nil {
			log.Printf("[FeedClient] パネルを閉じる際の反映に失敗: %v", err)
		} else {
			c.applyFlush(seq, hideIDs, viewIDs)
		}
		done <- err
	}()
	return done
}

// applyFlush は反映済みの結果を手元のエントリに適用する。
// 反映中にプッシュが届いていなければ未読表示を消す。
func (c *Controller) applyFlush(seq uint64, hidden, viewed []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hiddenSet := make(map[int64]struct{}, len(hidden))
	for _, id := range hidden {
		hiddenSet[id] = struct{}{}
	}
	viewedSet := make(map[int64]struct{}, len(viewed))
	for _, id := range viewed {
		viewedSet[id] = struct{}{}
	}
	kept := c.entries[:0]
	for _, e := range c.entries {
		if _, ok := hiddenSet[e.ID]; ok {
			continue
		}
		if _, ok := viewedSet[e.ID]; ok {
			e.IsViewed = true
		}
		kept = append(kept, e)
	}
	c.entries = kept
	if c.pushSeq == seq {
		c.unread = hasUnread(c.entries)
	}
}

// Unread は未読表示の有無を返す。
func (c *Controller) Unread() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// State は現在の状態を返す。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot は現在の状態のコピーを返す。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if _, ok := c.pending[e.ID]; ok {
			continue
		}
		entries = append(entries, e)
	}
	details := make(map[int64]Details, len(c.details))
	for id, d := range c.details {
		details[id] = d
	}
	return Snapshot{
		State:   c.state,
		Entries: entries,
		Details: details,
		Unread:  c.unread,
		Err:     c.err,
	}
}

func hasUnread(entries []Entry) bool {
	for _, e := range entries {
		if !e.IsViewed {
			return true
		}
	}
	return false
}
